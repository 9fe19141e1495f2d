package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

//go:embed digest.tmpl
var digestTemplate string

// Digest is the content of one notification: every matched minute of one
// meeting (immediate) or of every meeting since the last digest (weekly).
type Digest struct {
	To       string
	Weekly   bool
	Meetings []MeetingSection
}

// MeetingSection lists the matched minutes of one meeting in agenda order.
type MeetingSection struct {
	Name    string
	Council string
	Start   time.Time
	Minutes []MinuteSection
}

// MinuteSection is one matched minute and the reasons it matched.
type MinuteSection struct {
	ID         int64
	Serial     string
	CaseSerial string
	Headline   string
	Status     string
	Reasons    []string
}

// MinuteCount returns the number of minutes across all meetings.
func (d *Digest) MinuteCount() int {
	n := 0
	for _, m := range d.Meetings {
		n += len(m.Minutes)
	}
	return n
}

// Renderer turns digests into messages.
type Renderer struct {
	siteURL string
	tmpl    *template.Template
}

// NewRenderer creates a renderer linking minutes under siteURL.
func NewRenderer(siteURL string) *Renderer {
	funcs := template.FuncMap{
		"date": func(t time.Time) string { return t.Format("2.1.2006") },
		"join": strings.Join,
	}
	return &Renderer{
		siteURL: strings.TrimRight(siteURL, "/"),
		tmpl:    template.Must(template.New("digest").Funcs(funcs).Parse(digestTemplate)),
	}
}

// Render builds the message for d.
func (r *Renderer) Render(d *Digest) (*Message, error) {
	if len(d.Meetings) == 0 {
		return nil, fmt.Errorf("digest for %s has no meetings", d.To)
	}

	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, struct {
		*Digest
		SiteURL string
	}{d, r.siteURL})
	if err != nil {
		return nil, fmt.Errorf("failed to render digest: %w", err)
	}

	msg := &Message{
		To:       d.To,
		TextBody: buf.String(),
	}
	if d.Weekly {
		msg.Subject = fmt.Sprintf("Vikuyfirlit: %d mál", d.MinuteCount())
		msg.Tag = "weekly"
	} else {
		m := d.Meetings[0]
		msg.Subject = fmt.Sprintf("%s: %s", m.Council, m.Name)
		msg.Tag = "immediate"
	}
	return msg, nil
}
