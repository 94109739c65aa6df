package email

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps()))

// WelcomeSubject is the subject line of the signup confirmation email.
const WelcomeSubject = "Welcome to WCSC"

const welcomeTemplate = `# Welcome, %s

Your WCSC account for the **%s** chapter has been created.
You can sign in with your username **%s** or this email address.

[Sign in](%s)
`

// Welcome builds the confirmation email sent after a fallback signup.
// PRE: to is a valid address; loginURL is absolute or site-relative
// POST: Returns a message with a rendered HTML body
func Welcome(to, firstName, username, chapter, loginURL string) (Message, error) {
	src := fmt.Sprintf(welcomeTemplate, escapeMarkdown(firstName), escapeMarkdown(chapter), escapeMarkdown(username), loginURL)
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return Message{}, fmt.Errorf("render welcome email: %w", err)
	}
	return Message{To: []string{to}, Subject: WelcomeSubject, HTML: buf.String()}, nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "`", "\\`", "#", `\#`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
