package classifier

import (
	"regexp"
	"strings"
	"time"
)

// Kind labels one chunk of raw terminal output.
type Kind string

const (
	KindInteractive Kind = "interactive"
	KindPrompt      Kind = "prompt"
	KindCommand     Kind = "command"
	KindOutput      Kind = "output"
	KindNoise       Kind = "noise"
)

const (
	// maxPromptLen bounds how long a stripped chunk may be to still count as a prompt.
	maxPromptLen = 200
	// maxCommandLen bounds how long a stripped chunk may be to still count as a command.
	maxCommandLen = 500
	// outputWindow is how long after a command plain text is still attributed to it.
	outputWindow = 10 * time.Second
)

// State is the per-session classifier state. It is created on the first
// output chunk of a session and discarded when the session's log resources
// are torn down.
type State struct {
	InteractiveMode bool
	LastCommandAt   time.Time
}

// Result is the classification of a single chunk.
type Result struct {
	Kind      Kind
	ShouldLog bool
}

var (
	// Alternate screen enter/leave (smcup/rmcup variants) and full clear + home.
	altEnterRe  = regexp.MustCompile(`\x1b\[\?(?:1049|1047|47)h`)
	altLeaveRe  = regexp.MustCompile(`\x1b\[\?(?:1049|1047|47)l`)
	clearHomeRe = regexp.MustCompile(`\x1b\[2J|\x1b\[3J|\x1bc`)

	// CSI, OSC and stray single-char escape sequences.
	csiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)?`)
	escRe = regexp.MustCompile(`\x1b[@-_]`)

	// Prompt shapes: user@host paths, minimalist prompt glyphs, or a generic
	// short line ending in a prompt character.
	userHostPromptRe = regexp.MustCompile(`[\w.-]+@[\w.-]+[^\n]{0,120}[$#%>]\s*$`)
	glyphPromptRe    = regexp.MustCompile(`(?:➜|❯|λ|»|✗|✓)\s*$`)
	genericPromptRe  = regexp.MustCompile(`^[^\n]{0,120}[$#%>]\s*$`)

	pathTokenRe = regexp.MustCompile(`^(?:/|\./|\.\./|~/)\S*`)
)

// commandAllowList holds first words that make a short chunk count as a
// typed command. Precision over recall: a miss only loses a history entry,
// a false positive would spam every session's log.
var commandAllowList = map[string]struct{}{
	"ls": {}, "cd": {}, "pwd": {}, "cat": {}, "less": {}, "head": {}, "tail": {},
	"grep": {}, "rg": {}, "find": {}, "which": {}, "man": {}, "echo": {},
	"cp": {}, "mv": {}, "rm": {}, "mkdir": {}, "touch": {}, "chmod": {}, "chown": {},
	"tar": {}, "zip": {}, "unzip": {}, "curl": {}, "wget": {}, "ssh": {}, "scp": {},
	"git": {}, "make": {}, "go": {}, "cargo": {}, "rustc": {}, "python": {},
	"python3": {}, "pip": {}, "pip3": {}, "node": {}, "npm": {}, "npx": {},
	"pnpm": {}, "yarn": {}, "docker": {}, "kubectl": {}, "helm": {}, "terraform": {},
	"vim": {}, "nvim": {}, "vi": {}, "nano": {}, "emacs": {}, "code": {},
	"top": {}, "htop": {}, "ps": {}, "kill": {}, "pkill": {}, "sudo": {},
	"brew": {}, "apt": {}, "apt-get": {}, "dnf": {}, "pacman": {}, "systemctl": {},
	"export": {}, "source": {}, "history": {}, "clear": {}, "exit": {},
}

// Strip removes terminal control sequences from raw bytes and returns the
// remaining printable text.
func Strip(raw []byte) string {
	s := string(raw)
	s = oscRe.ReplaceAllString(s, "")
	s = csiRe.ReplaceAllString(s, "")
	s = escRe.ReplaceAllString(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classify labels one chunk of raw output for the session owning st.
// The decision order is fixed; the first matching rule wins. now is passed
// in so results are reproducible in tests.
func Classify(st *State, raw []byte, now time.Time) Result {
	s := string(raw)

	// Full-screen applications own the terminal; nothing they draw is worth
	// persisting.
	if altEnterRe.MatchString(s) || clearHomeRe.MatchString(s) {
		st.InteractiveMode = true
		return Result{Kind: KindInteractive}
	}
	if st.InteractiveMode {
		if altLeaveRe.MatchString(s) {
			st.InteractiveMode = false
		}
		return Result{Kind: KindInteractive}
	}

	text := strings.TrimSpace(Strip(raw))

	if isPrompt(text) {
		return Result{Kind: KindPrompt}
	}

	if isCommand(text) {
		st.LastCommandAt = now
		return Result{Kind: KindCommand, ShouldLog: true}
	}

	if text != "" && !st.LastCommandAt.IsZero() && now.Sub(st.LastCommandAt) <= outputWindow {
		return Result{Kind: KindOutput, ShouldLog: true}
	}

	return Result{Kind: KindNoise}
}

func isPrompt(text string) bool {
	if text == "" || len(text) > maxPromptLen {
		return false
	}
	if userHostPromptRe.MatchString(text) || glyphPromptRe.MatchString(text) {
		return true
	}
	// A generic prompt is a single short line ending in a prompt character.
	if strings.ContainsRune(text, '\n') {
		return false
	}
	return genericPromptRe.MatchString(text)
}

func isCommand(text string) bool {
	if text == "" || len(text) > maxCommandLen {
		return false
	}
	if strings.ContainsRune(text, '\n') {
		return false
	}
	if pathTokenRe.MatchString(text) {
		return true
	}
	first := text
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		first = text[:i]
	}
	_, ok := commandAllowList[strings.ToLower(first)]
	return ok
}
