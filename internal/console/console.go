package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chat-rag/internal/history"
	"chat-rag/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	Prompt      = "Enter your question: "
	ExitCommand = "exit"
)

type Asker interface {
	Query(ctx context.Context, h history.History, question string) (history.History, models.PromptResponse, error)
}

// Session reads questions line by line and answers them until "exit" or EOF.
type Session struct {
	asker   Asker
	in      *bufio.Reader
	out     io.Writer
	history history.History
}

func NewSession(asker Asker, in io.Reader, out io.Writer) *Session {
	return &Session{
		asker:   asker,
		in:      bufio.NewReader(in),
		out:     out,
		history: history.New(),
	}
}

func (s *Session) History() history.History { return s.history }

// IsExit reports whether line ends the session.
func IsExit(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), ExitCommand)
}

// Run blocks until the user exits, input ends or ctx is done. A failed turn
// is reported and leaves the history as it was.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(s.out, Prompt)
		line, err := s.readLine()
		if err != nil {
			fmt.Fprintln(s.out)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if IsExit(line) {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		question := line

		next, resp, err := s.asker.Query(ctx, s.history, question)
		if err != nil {
			log.Error().Err(err).Str("question", question).Msg("Turn failed")
			fmt.Fprintf(s.out, "\nError: %v\n\n", err)
			continue
		}
		s.history = next

		log.Debug().Str("standalone", resp.Standalone).Strs("sources", resp.Sources).Int("turns", s.history.Len()).Msg("Answered")
		fmt.Fprintf(s.out, "\nLLM Response:\n%s \n\n", resp.Content)
	}
}

// readLine returns the next line without its terminator. Lines have no length
// limit. A last line without a newline is still returned, io.EOF comes after.
func (s *Session) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
