package notify

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Template names a transactional email.
type Template string

const (
	TemplateKYCApproved   Template = "kyc_approved"
	TemplateKYCRejected   Template = "kyc_rejected"
	TemplateCallDeclined  Template = "call_declined"
	TemplateVideoCallLink Template = "video_call_link"
)

const DefaultFromName = "TicketSwapper Team"

// Email is a rendered message ready for a Sender.
type Email struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTML     string `json:"html"`
	Text     string `json:"text"`
	FromName string `json:"from_name"`
}

// Data fills a template.
type Data struct {
	Name  string
	Notes string
	Link  string
	From  string
}

var ErrUnknownTemplate = errors.New("notify: unknown template")

type source struct {
	subject string
	body    string
}

var sources = map[Template]source{
	TemplateKYCApproved: {
		subject: "Your identity has been verified",
		body: `Dear {{.Name}},

Good news: your video verification call is complete and your identity has been **verified**.
{{if .Notes}}
> {{.Notes}}
{{end}}
Thank you,
{{.From}}
`,
	},
	TemplateKYCRejected: {
		subject: "Your identity verification was not successful",
		body: `Dear {{.Name}},

We could not verify your identity during the video call.
{{if .Notes}}
Reason given by the verifier:

> {{.Notes}}
{{end}}
You can request a new verification call at any time.

Thank you,
{{.From}}
`,
	},
	TemplateCallDeclined: {
		subject: "Your verification call did not take place",
		body: `Dear {{.Name}},

Your video verification call ended before a decision was made.
{{if .Notes}}
> {{.Notes}}
{{end}}
Please request a new call when you are ready.

Thank you,
{{.From}}
`,
	},
	TemplateVideoCallLink: {
		subject: "Your Video KYC Call Link",
		body: `Dear {{.Name}},

Your video KYC verification call is ready. Please join the call using the link below:

[Join the verification call]({{.Link}})

Thank you,
{{.From}}
`,
	},
}

var (
	parsed = func() map[Template]*template.Template {
		out := make(map[Template]*template.Template, len(sources))
		for name, src := range sources {
			out[name] = template.Must(template.New(string(name)).Parse(src.body))
		}
		return out
	}()

	md = goldmark.New(goldmark.WithExtensions(extension.Linkify))

	// Notes are typed by a verifier and end up in a mail client.
	sanitizer = bluemonday.UGCPolicy()
)

// Render fills t and returns both the markdown text and its HTML rendering.
func Render(t Template, to string, d Data) (Email, error) {
	src, ok := sources[t]
	if !ok {
		return Email{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, t)
	}
	if d.Name == "" {
		d.Name = "User"
	}
	if d.From == "" {
		d.From = DefaultFromName
	}
	d.Notes = strings.Join(strings.Fields(d.Notes), " ")

	var text bytes.Buffer
	if err := parsed[t].Execute(&text, d); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", t, err)
	}
	var html bytes.Buffer
	if err := md.Convert(text.Bytes(), &html); err != nil {
		return Email{}, fmt.Errorf("convert %s: %w", t, err)
	}
	return Email{
		To:       to,
		Subject:  src.subject,
		HTML:     sanitizer.Sanitize(html.String()),
		Text:     text.String(),
		FromName: d.From,
	}, nil
}
