// Package render builds Telegram MarkdownV2 and plain-text bodies for
// corrected link messages.
package render

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// ParseModeMarkdownV2 is the Telegram parse mode the rendered bodies target.
const ParseModeMarkdownV2 = "MarkdownV2"

// MaxMessageLength is the Telegram limit on message text, in UTF-16 code units.
const MaxMessageLength = 4096

const ellipsis = "…"

// urlToken matches the same URL tokens linkfix scans for.
var urlToken = regexp.MustCompile(`(?i)https?://\S+`)

// Length reports the size of text as Telegram counts it. For MarkdownV2 the
// raw text is measured, which is an upper bound on the parsed length.
func Length(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

const markdownV2Reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes every MarkdownV2 reserved character so text is
// rendered literally.
func EscapeMarkdownV2(text string) string {
	if !strings.ContainsAny(text, markdownV2Reserved) {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 8)
	for _, r := range text {
		if strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeLinkTarget escapes the characters Telegram reserves inside the
// (...) part of an inline link.
func escapeLinkTarget(target string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(target)
}

// Mention renders a clickable mention of a user. Senders without a user id
// (anonymous admins, channels) are rendered as plain escaped names.
func Mention(name string, userID int64) string {
	name = strings.TrimSpace(name)
	if userID <= 0 {
		if name == "" {
			name = "anonymous"
		}
		return EscapeMarkdownV2(name)
	}
	if name == "" {
		name = "user " + strconv.FormatInt(userID, 10)
	}
	return "[" + EscapeMarkdownV2(name) + "](tg://user?id=" + strconv.FormatInt(userID, 10) + ")"
}

// Quote renders text as a MarkdownV2 block quote. Blank text yields "".
func Quote(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = ">" + EscapeMarkdownV2(line)
	}
	return strings.Join(lines, "\n")
}

// Links renders normalized URLs as inline links, one per line.
func Links(urls []string) string {
	lines := make([]string, 0, len(urls))
	for i, u := range urls {
		label := "Modified link"
		if len(urls) > 1 {
			label += " " + strconv.Itoa(i+1)
		}
		lines = append(lines, "["+EscapeMarkdownV2(label)+"]("+escapeLinkTarget(u)+")")
	}
	return strings.Join(lines, "\n")
}

// Correction is the content of a corrected message.
type Correction struct {
	SenderID   int64
	SenderName string
	// Body is the original text with the URLs removed.
	Body string
	URLs []string
}

// Attributed renders the MarkdownV2 message that replaces a deleted original.
// The quoted body is shortened when the whole message would not fit.
func Attributed(c Correction) string {
	return fit(c, attributed)
}

func attributed(c Correction) string {
	return joinBlocks(
		"Sent by "+Mention(c.SenderName, c.SenderID),
		Quote(c.Body),
		Links(c.URLs),
	)
}

// InPlace renders the MarkdownV2 reply sent when the original stays.
func InPlace(c Correction) string {
	return fit(c, inPlace)
}

func inPlace(c Correction) string {
	return joinBlocks(Quote(c.Body), Links(c.URLs))
}

// PlainText renders the unformatted fallback message. When attributed is
// true the sender is named, since the original may already be gone. The
// result never exceeds MaxMessageLength.
func PlainText(c Correction, attributed bool) string {
	text := fit(c, func(c Correction) string { return plainText(c, attributed) })
	return clip(text, MaxMessageLength)
}

func plainText(c Correction, attributed bool) string {
	var blocks []string
	if attributed {
		name := strings.TrimSpace(c.SenderName)
		if name == "" {
			name = "anonymous"
		}
		blocks = append(blocks, "Sent by "+name)
	}
	if body := strings.TrimSpace(c.Body); body != "" {
		blocks = append(blocks, body)
	}
	blocks = append(blocks, strings.Join(c.URLs, "\n"))
	return joinBlocks(blocks...)
}

// fit renders c with build, shortening the body and then dropping trailing
// links until the text fits in one message. The last attempt is returned
// when nothing fits.
func fit(c Correction, build func(Correction) string) string {
	text := build(c)
	if Length(text) <= MaxMessageLength {
		return text
	}

	body := []rune(strings.TrimSpace(c.Body))
	trial := c

	// Longest body prefix that fits; rendered length grows with the prefix.
	lo, hi := 0, len(body)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		trial.Body = shorten(body, mid)
		if Length(build(trial)) <= MaxMessageLength {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	trial.Body = shorten(body, lo)
	text = build(trial)

	for Length(text) > MaxMessageLength && len(trial.URLs) > 1 {
		trial.URLs = trial.URLs[:len(trial.URLs)-1]
		text = build(trial)
	}
	return text
}

func shorten(body []rune, n int) string {
	if n >= len(body) {
		return string(body)
	}
	head := strings.TrimRightFunc(string(body[:n]), unicode.IsSpace)
	if head == "" {
		return ""
	}
	return head + ellipsis
}

// clip cuts text to at most limit UTF-16 code units, marking the cut.
func clip(text string, limit int) string {
	if Length(text) <= limit {
		return text
	}

	budget := limit - Length(ellipsis)
	n := 0
	for i, r := range text {
		if n+utf16.RuneLen(r) > budget {
			return text[:i] + ellipsis
		}
		n += utf16.RuneLen(r)
	}
	return text
}

// StripURLs removes the URL tokens equal to one of urls from text and tidies
// the whitespace left behind, keeping line breaks. Other URLs stay intact,
// including ones that share a prefix with a removed URL.
func StripURLs(text string, urls []string) string {
	remove := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		remove[u] = struct{}{}
	}
	text = urlToken.ReplaceAllStringFunc(text, func(token string) string {
		if _, ok := remove[token]; ok {
			return ""
		}
		return token
	})

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func joinBlocks(blocks ...string) string {
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block != "" {
			out = append(out, block)
		}
	}
	return strings.Join(out, "\n\n")
}
