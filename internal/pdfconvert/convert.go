package pdfconvert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/ternarybob/arbor"
)

// PreferLibreOffice is the only conversion engine actually wired; a
// powerpoint preference is accepted and falls back with a warning.
const (
	PreferLibreOffice = "libreoffice"
	PreferPowerPoint  = "powerpoint"
	PreferAuto        = "auto"
)

// Converter turns presentation files into PDFs through a headless
// office suite subprocess.
type Converter struct {
	timeout time.Duration
	logger  arbor.ILogger
}

func New(logger arbor.ILogger, timeout time.Duration, prefer string) *Converter {
	if prefer == PreferPowerPoint {
		logger.Warn().Str("prefer", prefer).
			Msg("PowerPoint conversion is not available, using headless office suite")
	}
	return &Converter{timeout: timeout, logger: logger}
}

// Convert renders inputPath to outDir/<fileID>.pdf and returns the
// final path. The subprocess gets a throwaway profile so concurrent
// office instances cannot fight over the user profile lock. On timeout
// the whole child process tree is terminated.
func (c *Converter) Convert(ctx context.Context, inputPath, outDir string, fileID int64) (string, error) {
	soffice, err := findSoffice()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create pdf cache directory: %w", err)
	}
	profile, err := os.MkdirTemp("", "lectern-soffice-*")
	if err != nil {
		return "", fmt.Errorf("failed to create office profile: %w", err)
	}
	defer os.RemoveAll(profile)

	args := []string{
		"--headless", "--nologo", "--norestore", "--nofirststartwizard",
		"-env:UserInstallation=file://" + filepath.ToSlash(profile),
		"--convert-to", "pdf", "--outdir", outDir, inputPath,
	}
	cmd := exec.Command(soffice, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	setupProcAttr(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start office subprocess: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case err = <-done:
	case <-timer.C:
		killTree(cmd.Process.Pid)
		<-done
		return "", fmt.Errorf("pdf conversion timed out after %s", c.timeout)
	case <-ctx.Done():
		killTree(cmd.Process.Pid)
		<-done
		return "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("office subprocess failed: %s: %s",
			err, truncate(stderr.String(), 500))
	}

	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	produced := filepath.Join(outDir, stem+".pdf")
	target := filepath.Join(outDir, fmt.Sprintf("%d.pdf", fileID))
	if _, err := os.Stat(produced); err != nil {
		return "", fmt.Errorf("office subprocess produced no output: %w", err)
	}
	if produced != target {
		if err := os.Rename(produced, target); err != nil {
			return "", fmt.Errorf("failed to place converted pdf: %w", err)
		}
	}

	pages, err := api.PageCountFile(target)
	if err != nil {
		return "", fmt.Errorf("converted pdf is unreadable: %w", err)
	}
	if pages == 0 {
		return "", fmt.Errorf("converted pdf has no pages")
	}

	c.logger.Debug().
		Str("input", inputPath).
		Int("pages", pages).
		Dur("elapsed", time.Since(start)).
		Msg("Converted presentation to pdf")
	return target, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
