package mailer

import (
	"bytes"
	"html/template"

	"github.com/lumenshop/mailsched/internal/model"
)

// layoutTmpl is the storefront's transactional email shell. Content is
// trusted HTML authored by administrators; everything else is escaped.
var layoutTmpl = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f4f4;font-family:Arial,Helvetica,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table role="presentation" width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:6px;overflow:hidden;">
        {{if .ImageURL}}<tr><td><img src="{{.ImageURL}}" width="600" style="display:block;" alt=""></td></tr>{{end}}
        <tr><td style="padding:32px 40px 8px;">
          <h1 style="margin:0;font-size:24px;color:#1a1a1a;">{{.Heading}}</h1>
        </td></tr>
        <tr><td style="padding:8px 40px 24px;font-size:15px;line-height:1.6;color:#444444;">{{.Content}}</td></tr>
        {{range .Buttons}}
        <tr><td align="center" style="padding:0 40px 24px;">
          <a href="{{.Link}}" style="display:inline-block;padding:12px 28px;background:{{$.Accent}};color:#ffffff;text-decoration:none;border-radius:4px;font-size:15px;">{{.Text}}</a>
        </td></tr>
        {{end}}
      </table>
    </td></tr>
  </table>
</body>
</html>`))

type layoutData struct {
	Heading  string
	Content  template.HTML
	ImageURL string
	Buttons  []model.Button
	Accent   string
}

func renderBody(tmpl model.Template) (string, error) {
	accent := tmpl.Style["accent"]
	if accent == "" {
		accent = "#2d6cdf"
	}

	var buf bytes.Buffer
	err := layoutTmpl.Execute(&buf, layoutData{
		Heading:  tmpl.Heading,
		Content:  template.HTML(tmpl.Content),
		ImageURL: tmpl.ImageURL,
		Buttons:  tmpl.Buttons,
		Accent:   accent,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
