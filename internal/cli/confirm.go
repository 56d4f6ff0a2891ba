package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/manifoldco/promptui"
	"go.uber.org/zap"
)

const (
	answerYes  = "yes"
	answerNo   = "no"
	answerAll  = "yes to all"
	answerNone = "no to all"
)

// promptConfirmer asks on the terminal before every tag creation. Answers are
// serialized so parallel workers never interleave prompts.
type promptConfirmer struct {
	lock   sync.Mutex
	sticky *bool
}

func (p *promptConfirmer) ConfirmCreate(category, value string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.sticky != nil {
		return *p.sticky
	}

	prompt := promptui.Select{
		Label: fmt.Sprintf("Tag %s=%s does not exist, create it", category, value),
		Items: []string{answerYes, answerNo, answerAll, answerNone},
	}
	_, answer, err := prompt.Run()
	if err != nil {
		zap.S().Named("cli").Warnw("confirmation aborted, tag not created", "category", category, "value", value, "error", err)
		return false
	}

	switch answer {
	case answerAll, answerNone:
		decision := answer == answerAll
		p.sticky = &decision
		return decision
	default:
		return answer == answerYes
	}
}

// declineAll refuses every creation, used when no terminal is attached.
type declineAll struct{}

func (declineAll) ConfirmCreate(category, value string) bool {
	zap.S().Named("cli").Warnw("not creating tag without confirmation, rerun with --yes", "category", category, "value", value)
	return false
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
