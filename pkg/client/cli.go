package client

import (
	"bufio"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const prompt = "tftp> "

type Cli struct {
	l          *zap.SugaredLogger
	tftpClient Connector
	in         io.Reader
	out        io.Writer
}

func NewCli(l *zap.SugaredLogger, tftpClient Connector, in io.Reader, out io.Writer) *Cli {
	return &Cli{l: l, tftpClient: tftpClient, in: in, out: out}
}

// Read runs the shell until quit or end of input. A failed command is
// reported and the shell keeps going.
func (c *Cli) Read() error {
	scanner := bufio.NewScanner(c.in)
	evaluator := NewEvaluator(c.l, c.tftpClient, c.out)

	fmt.Fprint(c.out, prompt)

	for scanner.Scan() {
		done, err := evaluator.evaluate(scanner.Text())
		if err != nil {
			fmt.Fprintf(c.out, "%s\n", err.Error())
		}

		if done {
			return nil
		}

		fmt.Fprint(c.out, prompt)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error while reading commands: %w", err)
	}

	fmt.Fprintln(c.out)

	return nil
}
