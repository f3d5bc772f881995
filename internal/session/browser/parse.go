package browser

import (
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

type probeResult struct {
	BodyPresent      bool   `json:"bodyPresent"`
	NextPresent      bool   `json:"nextPresent"`
	BodyText         string `json:"bodyText"`
	Source           string `json:"source"`
	ChallengeVisible bool   `json:"challengeVisible"`
}

type rawOption struct {
	Letter string     `json:"letter"`
	Text   string     `json:"text"`
	Images [][]string `json:"images"`
}

type rawRecord struct {
	ID              string      `json:"id"`
	Subject         string      `json:"subject"`
	Topic           string      `json:"topic"`
	Contest         string      `json:"contest"`
	Statement       string      `json:"statement"`
	StatementImages [][]string  `json:"statementImages"`
	Options         []rawOption `json:"options"`
	AnswerKey       string      `json:"answerKey"`
	CorrectOption   string      `json:"correctOption"`
}

type rawComment struct {
	Found  bool       `json:"found"`
	Text   string     `json:"text"`
	Images [][]string `json:"images"`
}

type rawDetail struct {
	Title     string `json:"title"`
	Value     string `json:"value"`
	Composite bool   `json:"composite"`
}

type point struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// normalizeID strips the decoration around a displayed record identifier.
func normalizeID(text string) harvest.RecordID {
	return harvest.RecordID(strings.TrimSpace(strings.ReplaceAll(text, "#", "")))
}

var answerKeyPattern = regexp.MustCompile(`(?i)Gabarito:\s*(?:Letra\s*)?([A-E]|CERTO|ERRADO)`)

// parseAnswerKey finds an answer key written inside comment text. CERTO and
// ERRADO map to C and E.
func parseAnswerKey(comment string) (string, bool) {
	m := answerKeyPattern.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	switch key := strings.ToUpper(m[1]); key {
	case "CERTO":
		return "C", true
	case "ERRADO":
		return "E", true
	default:
		return key, true
	}
}

// pickImages chooses, for each image, the first candidate attribute holding
// an absolute http(s) URL. The result keeps first-seen order without repeats.
func pickImages(candidates [][]string) []string {
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, attrs := range candidates {
		for _, u := range attrs {
			u = strings.TrimSpace(u)
			if !strings.HasPrefix(u, "http") {
				continue
			}
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				out = append(out, u)
			}
			break
		}
	}
	return out
}

// contestText drops the first line of the contest block, which repeats the
// record identifier.
func contestText(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= 1 {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(strings.Join(lines[1:], " "))
}

func topicText(text, label string) string {
	text = strings.TrimSpace(text)
	if label != "" && strings.HasPrefix(text, label) {
		return strings.TrimSpace(strings.TrimPrefix(text, label))
	}
	return text
}

// detailKey turns a details panel title into a snake_case field key.
func detailKey(title string) string {
	key := strings.ToLower(strings.TrimSpace(title))
	key = strings.ReplaceAll(key, " / ", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return strings.ReplaceAll(key, " ", "_")
}

func detailsMap(items []rawDetail) map[string]string {
	out := make(map[string]string, len(items))
	for _, it := range items {
		if it.Title == "" || it.Value == "" {
			continue
		}
		out[detailKey(it.Title)] = it.Value
	}
	return out
}

// buildRecord assembles the record fields. comment and details may be nil
// when their panels could not be opened.
func buildRecord(raw rawRecord, comment *rawComment, details map[string]string, topicLabel string, now time.Time) harvest.Record {
	fields := map[string]any{
		"subject":   raw.Subject,
		"topic":     topicText(raw.Topic, topicLabel),
		"contest":   contestText(raw.Contest),
		"statement": raw.Statement,
	}
	total := 0

	statementImages := pickImages(raw.StatementImages)
	fields["statement_images"] = emptyIfNil(statementImages)
	total += len(statementImages)

	options := make([]map[string]any, 0, len(raw.Options))
	for _, o := range raw.Options {
		if o.Letter == "" || o.Text == "" {
			continue
		}
		opt := map[string]any{"letter": o.Letter, "text": o.Text}
		if imgs := pickImages(o.Images); len(imgs) > 0 {
			opt["images"] = imgs
			total += len(imgs)
		}
		options = append(options, opt)
	}
	fields["options"] = options

	var answer any
	switch {
	case raw.AnswerKey != "":
		answer = raw.AnswerKey
	case raw.CorrectOption != "":
		answer = raw.CorrectOption
	}

	fields["comment"] = nil
	if comment != nil && comment.Found {
		fields["comment"] = comment.Text
		if imgs := pickImages(comment.Images); len(imgs) > 0 {
			fields["comment_images"] = imgs
			total += len(imgs)
		}
		if answer == nil {
			if key, ok := parseAnswerKey(comment.Text); ok {
				answer = key
			}
		}
	}
	fields["answer_key"] = answer

	if details == nil {
		details = map[string]string{}
	}
	fields["details"] = details
	if total > 0 {
		fields["total_images"] = total
	}

	return harvest.Record{
		ID:          normalizeID(raw.ID),
		ExtractedAt: now,
		OptionCount: len(options),
		Fields:      fields,
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
