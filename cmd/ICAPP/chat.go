package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ami4go/ICAPP/internal/flow"
	"github.com/ami4go/ICAPP/internal/models"
)

// Chat commands.
const (
	chatCmdEnd   = "/end"
	chatCmdState = "/state"
)

// runChatCommand wires the components and runs an interactive consultation.
// Logs go to stderr so they do not interleave with the dialogue.
func runChatCommand(ctx context.Context, cfg Config, doctor string, in io.Reader, out io.Writer) error {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	initializeLogger(level, os.Stderr)

	a, err := bootstrap(cfg, flow.WithIdleTimeout(0))
	if err != nil {
		return err
	}
	defer a.Close()

	return runChat(ctx, a.coord, doctor, in, out)
}

// chatCoordinator is the part of flow.Coordinator the terminal loop drives.
type chatCoordinator interface {
	Start(ctx context.Context, doctorUsername string) models.SessionView
	Message(ctx context.Context, sessionID, text string) (models.MessageResult, error)
	State(sessionID string) (models.SessionView, error)
	End(ctx context.Context, sessionID, finalDiagnosis, prescriptions string) (models.HistoryRecord, error)
}

// runChat reads doctor lines from in and prints the patient's replies to out.
// The session is archived on /end, on a resolved consultation, or at end of input.
func runChat(ctx context.Context, coord chatCoordinator, doctor string, in io.Reader, out io.Writer) error {
	view := coord.Start(ctx, doctor)
	printIntro(out, view)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Doctor> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == chatCmdState:
			v, err := coord.State(view.SessionID)
			if err != nil {
				return err
			}
			printState(out, v.State)
			continue
		case line == chatCmdEnd || strings.HasPrefix(line, chatCmdEnd+" "):
			diagnosis := strings.TrimSpace(strings.TrimPrefix(line, chatCmdEnd))
			return endChat(ctx, coord, out, view.SessionID, diagnosis)
		}

		res, err := coord.Message(ctx, view.SessionID, line)
		if err != nil {
			if errors.Is(err, flow.ErrSessionClosed) {
				fmt.Fprintln(out, "The consultation is already over.")
				return endChat(ctx, coord, out, view.SessionID, "")
			}
			return err
		}
		fmt.Fprintf(out, "Patient: %s\n", res.Reply)
		printState(out, res.StateSummary)
		if res.Done {
			return endChat(ctx, coord, out, view.SessionID, "")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	fmt.Fprintln(out)
	return endChat(ctx, coord, out, view.SessionID, "")
}

func endChat(ctx context.Context, coord chatCoordinator, out io.Writer, sessionID, diagnosis string) error {
	rec, err := coord.End(ctx, sessionID, diagnosis, "")
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	fmt.Fprintf(out, "Session ended (%s). The patient had %s.\n", rec.Status, rec.Disease)
	return nil
}

func printIntro(out io.Writer, view models.SessionView) {
	p := view.Patient
	fmt.Fprintf(out, "Patient: %s (%s, %s)\n", p.Name, p.Sex, p.AgeRange)
	fmt.Fprintf(out, "Patient: %s\n", p.PresentingSummary)
	fmt.Fprintf(out, "Type %s to see the state, %s [diagnosis] to finish.\n", chatCmdState, chatCmdEnd)
}

func printState(out io.Writer, s models.StateSummary) {
	revealed := "none"
	if len(s.RevealedSymptoms) > 0 {
		revealed = strings.Join(s.RevealedSymptoms, ", ")
	}
	line := fmt.Sprintf("[status: %s | revealed: %s", s.Status, revealed)
	if s.NeedsEscalation {
		line += " | needs escalation"
	}
	fmt.Fprintln(out, line+"]")
}
