// ABOUTME: Trivy CLI scan source invoking the trivy binary per image.
// ABOUTME: Bounds each scan with a timeout and maps subprocess failures to typed error kinds.

package trivy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jfeddern/TrivyScope/internal/report"
	"github.com/jfeddern/TrivyScope/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultBinary  = "trivy"
	defaultTimeout = 5 * time.Minute
	severityFilter = "CRITICAL,HIGH,MEDIUM,LOW"

	// maxStderr caps how much scanner stderr is carried into error messages.
	maxStderr = 512
)

// commandRunner is the seam between the scanner and the operating system so
// tests can substitute a fake process.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Scanner implements ScanSource by shelling out to the Trivy CLI with JSON
// output and a severity filter.
type Scanner struct {
	binary  string
	timeout time.Duration
	runner  commandRunner
	logger  *logrus.Logger
}

// NewScanner creates a Trivy CLI scan source.
func NewScanner(logger *logrus.Logger) *Scanner {
	return &Scanner{
		binary:  defaultBinary,
		timeout: defaultTimeout,
		runner:  execRunner{},
		logger:  logger,
	}
}

// Name returns the source name.
func (s *Scanner) Name() string {
	return "trivy-cli"
}

// Scan runs one trivy image scan with a bounded deadline, capturing stdout
// for parsing and stderr for diagnostics. Exit failure, timeout, and
// unparsable output each surface as a typed error; none of them aborts
// anything beyond this subject.
func (s *Scanner) Scan(ctx context.Context, subject types.ScanSubject) (*types.ScanReport, error) {
	logger := s.logger.WithField("image", subject.Identity)
	logger.Info("Scanning image")

	scanCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"image",
		"--format", "json",
		"--severity", severityFilter,
		"--no-progress",
		"--timeout", s.timeout.String(),
		subject.Identity,
	}

	stdout, stderr, err := s.runner.Run(scanCtx, s.binary, args...)
	if err != nil {
		if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
			return nil, types.NewScanError(types.ErrorKindScanTimeout,
				fmt.Errorf("trivy scan of %q exceeded %s", subject.Identity, s.timeout))
		}
		return nil, types.NewScanError(types.ErrorKindScanProcess,
			fmt.Errorf("trivy scan of %q failed: %w: %s", subject.Identity, err, trimStderr(stderr)))
	}

	rep, err := report.Parse(stdout)
	if err != nil {
		return nil, err
	}

	// Keep the enumerated identity; the metrics must key on the reference
	// the inventory discovered, not whatever name trivy echoes back.
	rep.Subject = subject
	return rep, nil
}

func trimStderr(stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	if len(text) > maxStderr {
		text = text[:maxStderr]
	}
	return text
}
