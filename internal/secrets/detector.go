package secrets

import (
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksPass runs the gitleaks default ruleset. The ruleset is compiled
// once; a fresh detector is built per call because detectors accumulate
// findings internally.
type gitleaksPass struct {
	once sync.Once
	cfg  gitleaksconfig.Config
	err  error
}

type leak struct {
	ruleID      string
	description string
	secret      string
}

func newGitleaksPass() *gitleaksPass {
	return &gitleaksPass{}
}

func (g *gitleaksPass) detect(content string) []leak {
	g.once.Do(func() {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			g.err = err
			return
		}
		g.cfg = d.Config
	})
	if g.err != nil {
		return nil
	}

	findings := detect.NewDetector(g.cfg).DetectString(content)
	out := make([]leak, 0, len(findings))
	for _, f := range findings {
		out = append(out, leak{ruleID: f.RuleID, description: f.Description, secret: f.Secret})
	}
	return out
}
