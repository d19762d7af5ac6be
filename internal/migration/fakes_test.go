package migration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/stretchr/testify/mock"

	"dw2rc/internal/converter"
)

// factorySpy counts converter constructions and hands out fakeConverters
// whose behaviour is decided by run
type factorySpy struct {
	mock.Mock
	run  func(p converter.Params) error
	step string
}

func newFactorySpy(run func(p converter.Params) error) *factorySpy {
	f := &factorySpy{run: run, step: "Downloading 01.txt"}
	f.On("New", mock.Anything).Return(nil)
	return f
}

func (f *factorySpy) New(p converter.Params) (converter.Converter, error) {
	args := f.Called(p.LanguageCode)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return &fakeConverter{params: p, run: f.run, step: f.step}, nil
}

type fakeConverter struct {
	params converter.Params
	run    func(p converter.Params) error
	step   string
}

func (c *fakeConverter) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.run(c.params)
}

func (c *fakeConverter) Trying() string {
	return c.step
}

// writeContent emulates a converter producing output
func writeContent(p converter.Params) error {
	dir := filepath.Join(p.OutDir, "content")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "01.md"), []byte("# 1\n"), 0o644)
}

// writeTitle emulates the OBS converter writing front matter
func writeTitle(title string) func(p converter.Params) error {
	return func(p converter.Params) error {
		if err := writeContent(p); err != nil {
			return err
		}
		path := converter.TitlePath(p.OutDir)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, []byte(title+"\n"), 0o644)
	}
}

type recorderSpy struct {
	outcomes []string
}

func (r *recorderSpy) ObserveConversion(resource, outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, resource+":"+outcome)
}
