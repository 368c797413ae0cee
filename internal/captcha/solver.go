// Package captcha defines the CAPTCHA challenge handed out by the portal and
// the pluggable capability that turns its image into a text guess.
package captcha

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

var (
	// ErrUnsolved is returned when a solver produced no usable guess.
	ErrUnsolved = errors.New("captcha: no solution")
	// ErrEmptyChallenge is returned when the portal sent no image payload.
	ErrEmptyChallenge = errors.New("captcha: empty challenge")
)

// Challenge is one CAPTCHA image as delivered by the portal.
type Challenge struct {
	// Encoded is the base64 payload exactly as received.
	Encoded string
	// Image is the decoded image bytes.
	Image []byte
}

// DecodeChallenge decodes a base64 image payload. A leading data URI header
// such as "data:image/png;base64," is tolerated.
func DecodeChallenge(encoded string) (Challenge, error) {
	payload := strings.TrimSpace(encoded)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ","); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return Challenge{}, ErrEmptyChallenge
	}

	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some servers drop the padding.
		img, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Challenge{}, fmt.Errorf("captcha: invalid base64 payload: %w", err)
		}
	}
	if len(img) == 0 {
		return Challenge{}, ErrEmptyChallenge
	}
	return Challenge{Encoded: encoded, Image: img}, nil
}

// Solver turns a CAPTCHA image into a text guess. Implementations may be
// automated (OCR, a solving service) or interactive. A nil error with an
// empty guess is treated by callers the same as ErrUnsolved. Correctness of
// the guess is not part of the contract; the portal decides.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverFunc adapts an ordinary function to the Solver interface.
type SolverFunc func(ctx context.Context, image []byte) (string, error)

// Solve calls f(ctx, image).
func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// PromptSolver asks a human for the answer. It tells the operator where the
// image was saved and reads a single line as the guess. One goroutine reads
// In for the solver's lifetime, so a Solve abandoned through ctx does not
// leave a reader behind that would steal the next answer.
type PromptSolver struct {
	In        io.Reader
	Out       io.Writer
	ImagePath string

	once  sync.Once
	lines chan promptLine
}

type promptLine struct {
	text string
	err  error
}

func (p *PromptSolver) readLines() {
	defer close(p.lines)
	reader := bufio.NewReader(p.In)
	for {
		line, err := reader.ReadString('\n')
		if line != "" || err != nil {
			p.lines <- promptLine{line, err}
		}
		if err != nil {
			return
		}
	}
}

// Solve implements Solver. It honours ctx cancellation while waiting for input.
func (p *PromptSolver) Solve(ctx context.Context, _ []byte) (string, error) {
	p.once.Do(func() {
		p.lines = make(chan promptLine, 1)
		go p.readLines()
	})

	if p.ImagePath != "" {
		fmt.Fprintf(p.Out, "CAPTCHA saved to %s\n", p.ImagePath)
	}
	fmt.Fprint(p.Out, "Enter CAPTCHA text: ")

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-p.lines:
		if !ok {
			return "", ErrUnsolved
		}
		guess := strings.TrimSpace(r.text)
		if guess == "" {
			if r.err != nil && !errors.Is(r.err, io.EOF) {
				return "", fmt.Errorf("captcha: reading answer: %w", r.err)
			}
			return "", ErrUnsolved
		}
		return guess, nil
	}
}

// CommandSolver runs an external program, typically an OCR tool, with the
// image on stdin and takes the first non-empty line of its stdout as the guess.
type CommandSolver struct {
	Path string
	Args []string
}

// NewCommandSolver builds a CommandSolver from an argv slice.
func NewCommandSolver(argv []string) (*CommandSolver, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("captcha: solver command is empty")
	}
	return &CommandSolver{Path: argv[0], Args: argv[1:]}, nil
}

// Solve implements Solver.
func (c *CommandSolver) Solve(ctx context.Context, image []byte) (string, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("captcha: solver command %q failed: %w (stderr: %s)", c.Path, err, strings.TrimSpace(stderr.String()))
	}

	for _, line := range strings.Split(stdout.String(), "\n") {
		if guess := strings.TrimSpace(line); guess != "" {
			return guess, nil
		}
	}
	return "", ErrUnsolved
}
