package client

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"go.uber.org/zap"
)

var (
	getRegex     = `^get\s+(\S+)(?:\s+(\S+))?$`
	putRegex     = `^put\s+(\S+)(?:\s+(\S+))?$`
	timeoutRegex = `^timeout\s+(\d+)$`
	retriesRegex = `^retries\s+(\d+)$`
	connectRegex = `^connect\s+(\S+)(?:\s+(\d+))?$`
	dirRegex     = `^(?:dir|ls)$`
	traceRegex   = `^trace$`
	statusRegex  = `^status$`
	quitRegex    = `^(?:quit|exit)$`
	helpRegex    = `^(?:help|\?)$`
)

const helpText = `Commands:
	connect <host> [port]
	get <remote file> [local file]
	put <local file> [remote file]
	dir
	timeout <seconds>
	retries <count>
	trace
	status
	quit`

type Evaluator struct {
	l             *zap.SugaredLogger
	client        Connector
	out           io.Writer
	regexPatterns map[string]*regexp.Regexp
}

func NewEvaluator(l *zap.SugaredLogger, client Connector, out io.Writer) *Evaluator {
	e := &Evaluator{
		l:      l,
		client: client,
		out:    out,
	}

	e.regexPatterns = make(map[string]*regexp.Regexp)

	e.regexPatterns["get"] = regexp.MustCompile(getRegex)
	e.regexPatterns["put"] = regexp.MustCompile(putRegex)
	e.regexPatterns["timeout"] = regexp.MustCompile(timeoutRegex)
	e.regexPatterns["retries"] = regexp.MustCompile(retriesRegex)
	e.regexPatterns["connect"] = regexp.MustCompile(connectRegex)
	e.regexPatterns["dir"] = regexp.MustCompile(dirRegex)
	e.regexPatterns["trace"] = regexp.MustCompile(traceRegex)
	e.regexPatterns["status"] = regexp.MustCompile(statusRegex)
	e.regexPatterns["quit"] = regexp.MustCompile(quitRegex)
	e.regexPatterns["help"] = regexp.MustCompile(helpRegex)

	return e
}

// evaluate runs one shell line and reports whether the shell should stop.
func (e *Evaluator) evaluate(line string) (bool, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return false, nil
	}

	if matches := e.regexPatterns["get"].FindStringSubmatch(line); len(matches) == 3 {
		start := time.Now()

		n, err := e.client.Get(matches[1], matches[2])
		if err != nil {
			return false, err
		}

		fmt.Fprintf(e.out, "Received %d bytes in %s\n", n, time.Since(start).Round(time.Millisecond))

		return false, nil
	}

	if matches := e.regexPatterns["put"].FindStringSubmatch(line); len(matches) == 3 {
		start := time.Now()

		n, err := e.client.Put(matches[1], matches[2])
		if err != nil {
			return false, err
		}

		fmt.Fprintf(e.out, "Sent %d bytes in %s\n", n, time.Since(start).Round(time.Millisecond))

		return false, nil
	}

	if e.regexPatterns["dir"].MatchString(line) {
		_, err := e.client.Dir(e.out)

		return false, err
	}

	if matches := e.regexPatterns["timeout"].FindStringSubmatch(line); len(matches) == 2 {
		n, err := strconv.ParseUint(matches[1], 10, 32)
		if err != nil || n == 0 {
			return false, fmt.Errorf("%w: timeout value %q", utils.ErrInvalidArgument, matches[1])
		}

		e.client.SetTimeout(uint(n))

		return false, nil
	}

	if matches := e.regexPatterns["retries"].FindStringSubmatch(line); len(matches) == 2 {
		n, err := strconv.Atoi(matches[1])
		if err != nil {
			return false, fmt.Errorf("%w: retries value %q", utils.ErrInvalidArgument, matches[1])
		}

		e.client.SetRetries(n)

		return false, nil
	}

	if matches := e.regexPatterns["connect"].FindStringSubmatch(line); len(matches) == 3 {
		port := types.DefaultPort

		if matches[2] != "" {
			p, err := strconv.ParseUint(matches[2], 10, 16)
			if err != nil || p == 0 {
				return false, fmt.Errorf("%w: port %q", utils.ErrInvalidArgument, matches[2])
			}

			port = uint16(p)
		}

		return false, e.client.Connect(context.Background(), matches[1], port)
	}

	if e.regexPatterns["trace"].MatchString(line) {
		fmt.Fprintf(e.out, "Packet tracing %s.\n", onOff(e.client.SetTrace()))

		return false, nil
	}

	if e.regexPatterns["status"].MatchString(line) {
		fmt.Fprintln(e.out, e.client.Status())

		return false, nil
	}

	if e.regexPatterns["help"].MatchString(line) {
		fmt.Fprintln(e.out, helpText)

		return false, nil
	}

	if e.regexPatterns["quit"].MatchString(line) {
		return true, nil
	}

	return false, fmt.Errorf("unknown command: %s", line)
}

func onOff(b bool) string {
	if b {
		return "on"
	}

	return "off"
}
