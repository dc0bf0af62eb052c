package kiosk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/facegate/internal/gallery"
	"github.com/andresmejia3/facegate/internal/liveness"
	"github.com/andresmejia3/facegate/internal/utils"
)

const replHelp = `Commands:
  login            capture, blink, and log in
  register <name>  capture, blink, and register a new user
  check            run the blink check only
  list             show registered users
  help             show this message
  quit             leave the kiosk`

// Serve runs the interactive kiosk loop until quit, EOF or ctx is done.
// Failures of a single command are reported on out and the loop continues.
func (k *Kiosk) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "👁️  facegate kiosk ready. Type 'help' for commands.")

	for {
		fmt.Fprint(out, "> ")
		if !nextLine(ctx, scanner) {
			if err := scanner.Err(); err != nil {
				return err
			}
			return ctx.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		var err error
		switch cmd {
		case "quit", "exit":
			fmt.Fprintln(out, "👋 Bye.")
			return nil
		case "help":
			fmt.Fprintln(out, replHelp)
		case "login":
			err = k.replLogin(ctx, out)
		case "register":
			if len(args) != 1 {
				fmt.Fprintln(out, "usage: register <name>")
				continue
			}
			err = k.replRegister(ctx, out, args[0])
		case "check":
			err = k.replCheck(ctx, out)
		case "list":
			err = k.replList(out)
		default:
			fmt.Fprintf(out, "Unknown command %q. Type 'help' for commands.\n", cmd)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.ShowError(out, cmd+" failed", err, nil)
		}
	}
}

// nextLine reads one line unless ctx is already done.
func nextLine(ctx context.Context, s *bufio.Scanner) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.Scan()
}

func (k *Kiosk) replLogin(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "📸 Look at the camera and blink...")
	res, err := k.Login(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, LoginMessage(res))
	return nil
}

func (k *Kiosk) replRegister(ctx context.Context, out io.Writer, name string) error {
	fmt.Fprintln(out, "📸 Look at the camera and blink...")
	res, err := k.Register(ctx, name)
	if errors.Is(err, gallery.ErrExists) {
		fmt.Fprintf(out, "⚠️  User %s already exists.\n", name)
		return nil
	}
	if errors.Is(err, gallery.ErrInvalidName) {
		fmt.Fprintf(out, "⚠️  %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, RegisterMessage(res))
	return nil
}

func (k *Kiosk) replCheck(ctx context.Context, out io.Writer) error {
	res, err := k.Check(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, CheckMessage(res))
	return nil
}

func (k *Kiosk) replList(out io.Writer) error {
	refs, err := k.Gallery.List()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		fmt.Fprintln(out, "No registered users.")
		return nil
	}
	for _, r := range refs {
		fmt.Fprintf(out, "  • %s\n", r.Name)
	}
	return nil
}

// LoginMessage renders a login outcome the way the kiosk shows it.
func LoginMessage(res LoginResult) string {
	switch res.Outcome {
	case LoginSuccess:
		return fmt.Sprintf("✅ Welcome, %s", res.Name)
	case LoginNoMatch:
		return "⛔ No matching user found."
	case OutcomeNoFace:
		return "⚠️  No face detected in captured image."
	default:
		return "⛔ Liveness check failed: " + livenessHint(res.Liveness)
	}
}

// RegisterMessage renders a registration outcome.
func RegisterMessage(res RegisterResult) string {
	switch res.Outcome {
	case Registered:
		return fmt.Sprintf("✅ User registered successfully: %s", res.Name)
	case OutcomeNoFace:
		return "⚠️  No face detected in captured image."
	default:
		return "⛔ Liveness check failed: " + livenessHint(res.Liveness)
	}
}

// CheckMessage renders a standalone blink check.
func CheckMessage(res liveness.Result) string {
	if res.Blinked {
		return fmt.Sprintf("✅ Blink detected after %d frame(s).", res.Frames)
	}
	return "⛔ " + livenessHint(res)
}

func livenessHint(res liveness.Result) string {
	switch res.Reason {
	case liveness.ReasonNoFace:
		return "no face detected."
	case liveness.ReasonNoBlink, liveness.ReasonEyesOpen, liveness.ReasonFinished:
		return "no blink detected, please blink."
	case liveness.ReasonEyesClosed:
		return "eyes never reopened."
	default:
		return fmt.Sprintf("%s.", res.Reason)
	}
}
