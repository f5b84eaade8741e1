// Package render turns push jobs into channel messages using the embedded copy catalogs.
//
// Catalog keys are "<type>.<step>" for step variants, "<type>.generic" for the type's fallback
// and "generic" for the global reminder. Each locale lives in locales/<tag>.yaml.
package render

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"

	"retention-notifier/internal/channel"
	"retention-notifier/internal/push/domain"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// Callback data attached to inline buttons. The conversational front-end handles them.
const (
	CallbackPaywallOpen  = "paywall:open"
	CallbackInterviewYes = "interview:yes"
	CallbackInterviewNo  = "interview:no"
	CallbackRitualOpen   = "ritual:open"
)

const genericKey = "generic"

// Renderer renders jobs in one locale.
type Renderer struct {
	cat *catalog.Builder
	tag language.Tag
}

// New loads the embedded catalogs and selects locale, falling back to Russian when it is not available.
func New(locale string) (*Renderer, error) {
	cat, tags, err := loadCatalogs(localesFS)
	if err != nil {
		return nil, err
	}
	want, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		want = language.Russian
	}
	// The matcher offers its closest tag even for unrelated languages; only accept a same-language match.
	_, idx, conf := language.NewMatcher(tags).Match(want)
	if conf == language.No || !sameBase(want, tags[idx]) {
		idx = 0
	}
	return &Renderer{cat: cat, tag: tags[idx]}, nil
}

func sameBase(a, b language.Tag) bool {
	ab, _ := a.Base()
	bb, _ := b.Base()
	return ab == bb
}

// Locale returns the selected catalog language.
func (r *Renderer) Locale() language.Tag {
	return r.tag
}

// Render builds the message for job.
func (r *Renderer) Render(job *domain.Job) channel.Message {
	p := message.NewPrinter(r.tag, message.Catalog(r.cat))
	msg := channel.Message{UserID: job.UserID, Text: r.text(p, job.Type, job.Payload.Step)}
	switch job.Type {
	case domain.TypePaywallFollowup:
		msg.Buttons = [][]channel.Button{{{Text: p.Sprintf("button.subscribe"), CallbackData: CallbackPaywallOpen}}}
	case domain.TypeInterviewInvite:
		msg.MediaURL = job.Payload.PhotoURL
		msg.Buttons = [][]channel.Button{{
			{Text: p.Sprintf("button.interview_yes"), CallbackData: CallbackInterviewYes},
			{Text: p.Sprintf("button.interview_no"), CallbackData: CallbackInterviewNo},
		}}
	case domain.TypePremiumRitual:
		msg.Buttons = [][]channel.Button{{{Text: p.Sprintf("button.open_ideas"), CallbackData: CallbackRitualOpen}}}
	}
	return msg
}

func (r *Renderer) text(p *message.Printer, t domain.Type, step int) string {
	keys := []string{string(t) + ".generic", genericKey}
	if step > 0 {
		keys = append([]string{string(t) + "." + strconv.Itoa(step)}, keys...)
	}
	for _, k := range keys {
		// The printer echoes an unknown key back.
		if s := p.Sprintf(k); s != k {
			return s
		}
	}
	return ""
}

func loadCatalogs(fsys fs.FS) (*catalog.Builder, []language.Tag, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	cat := catalog.NewBuilder(catalog.Fallback(language.Russian))
	// Russian first so the matcher falls back to it.
	tags := []language.Tag{language.Russian}
	for _, p := range paths {
		tag, err := language.Parse(strings.TrimSuffix(path.Base(p), ".yaml"))
		if err != nil {
			return nil, nil, fmt.Errorf("catalog %s: parse locale: %w", p, err)
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var messages map[string]string
		if err := yaml.Unmarshal(raw, &messages); err != nil {
			return nil, nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		for k, v := range messages {
			if err := cat.SetString(tag, k, v); err != nil {
				return nil, nil, fmt.Errorf("catalog %s: key %q: %w", p, k, err)
			}
		}
		if tag != language.Russian {
			tags = append(tags, tag)
		}
	}
	return cat, tags, nil
}
