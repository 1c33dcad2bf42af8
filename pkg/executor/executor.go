// Package executor provides an interface for the executor as well as a local and remote implementation.
// The executor is used to run commands on the local machine or on a remote machine.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Interface is an interface for the executor.
// Implemented by Remote, Local and Dry structs.
type Interface interface {
	Run(ctx context.Context, c string, opts *RunOpts) (out []string, err error)
	Upload(ctx context.Context, local, remote string, opts *UpDownOpts) (err error)
	Download(ctx context.Context, remote, local string, opts *UpDownOpts) (err error)
	Sync(ctx context.Context, localDir, remoteDir string, opts *SyncOpts) ([]string, error)
	Delete(ctx context.Context, remoteFile string, opts *DeleteOpts) (err error)
	Close() error
}

// RunOpts controls Run behavior.
type RunOpts struct {
	Verbose bool
}

// UpDownOpts controls Upload/Download behavior.
type UpDownOpts struct {
	Mkdir   bool
	Force   bool // skip the same-file optimization and overwrite unconditionally
	Exclude []string
}

// SyncOpts controls Sync behavior.
type SyncOpts struct {
	Delete  bool // remove destination files absent from the source
	Force   bool
	Exclude []string
}

// DeleteOpts controls Delete behavior.
type DeleteOpts struct {
	Recursive bool
	Exclude   []string
}

// StdOutLogWriter is a writer that writes log with a prefix and a log level, masking secrets if any.
type StdOutLogWriter struct {
	prefix  string
	level   string
	secrets []string
}

// NewStdoutLogWriter creates a new StdOutLogWriter.
func NewStdoutLogWriter(prefix, level string, secrets []string) *StdOutLogWriter {
	return &StdOutLogWriter{prefix: prefix, level: level, secrets: secrets}
}

func (w *StdOutLogWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		line = maskSecrets(line, w.secrets)
		log.Printf("[%s] %s %s", w.level, w.prefix, line)
	}
	return len(p), nil
}

// ColorizedWriter is a writer that colorizes the output based on the hostAddr name and masks secrets.
type ColorizedWriter struct {
	wr       io.Writer
	prefix   string
	hostAddr string
	hostName string
	secrets  []string
}

// NewColorizedWriter creates a new ColorizedWriter with the given hostAddr name.
func NewColorizedWriter(wr io.Writer, prefix, hostAddr, hostName string, secrets []string) *ColorizedWriter {
	return &ColorizedWriter{wr: wr, hostAddr: hostAddr, hostName: hostName, prefix: prefix, secrets: secrets}
}

// WithHost creates a new ColorizedWriter with the given hostAddr name.
func (s *ColorizedWriter) WithHost(hostAddr, hostName string) *ColorizedWriter {
	return &ColorizedWriter{wr: s.wr, hostAddr: hostAddr, hostName: hostName, prefix: s.prefix, secrets: s.secrets}
}

// Write writes the given byte slice to stdout with the colorized hostAddr prefix for each line.
// If the input does not end with a newline, one is added.
func (s *ColorizedWriter) Write(p []byte) (n int, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		hostID := s.hostAddr
		if s.hostName != "" {
			hostID = s.hostName + " " + s.hostAddr
		}
		formattedOutput := fmt.Sprintf("[%s] %s %s", hostID, s.prefix, line)
		if s.prefix == "" {
			formattedOutput = fmt.Sprintf("[%s] %s", hostID, line)
		}
		formattedOutput = maskSecrets(formattedOutput, s.secrets)
		colorizer := hostColorizer(s.hostAddr)
		colorizedOutput := colorizer("%s\n", formattedOutput)
		_, err = io.WriteString(s.wr, colorizedOutput)
		if err != nil {
			return 0, err
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// hostColorizer returns a function that formats a string with a color based on the hostAddr name.
func hostColorizer(host string) func(format string, a ...interface{}) string {
	colors := []color.Attribute{
		color.FgHiRed, color.FgHiGreen, color.FgHiYellow,
		color.FgHiBlue, color.FgHiMagenta, color.FgHiCyan,
		color.FgRed, color.FgGreen, color.FgYellow,
		color.FgBlue, color.FgMagenta, color.FgCyan,
	}
	i := crc32.ChecksumIEEE([]byte(host)) % uint32(len(colors))
	return color.New(colors[i]).SprintfFunc()
}

// MakeOutAndErrWriters creates the out and err writers for the given hostAddr: ColorizedWriters
// on stdout when verbose, StdoutLogWriters otherwise.
func MakeOutAndErrWriters(hostAddr, hostName string, verbose bool, secrets []string) (outWr, errWr io.Writer) {
	var outLog, errLog io.Writer
	if verbose {
		outLog = NewColorizedWriter(os.Stdout, " >", hostAddr, hostName, secrets)
		errLog = NewColorizedWriter(os.Stdout, " !", hostAddr, hostName, secrets)
	} else {
		outLog = NewStdoutLogWriter(" >", "DEBUG", secrets)
		errLog = NewStdoutLogWriter(" !", "WARN", secrets)
	}
	return outLog, errLog
}

// isExcluded reports whether relPath, or any of its parent directories, matches any of
// the exclusion glob patterns. An invalid pattern never matches.
func isExcluded(relPath string, exclude []string) bool {
	if relPath == "" {
		return false
	}
	for _, pattern := range exclude {
		for p := relPath; ; p = filepath.Dir(p) {
			if ok, err := filepath.Match(pattern, p); err == nil && ok {
				return true
			}
			if parent := filepath.Dir(p); parent == p || parent == "." {
				break
			}
		}
	}
	return false
}

// isExcludedSubPath reports whether dirPath is a parent of, or equal to, any exclusion pattern's
// literal prefix - used to avoid pruning directories that contain a deeper excluded path.
func isExcludedSubPath(dirPath string, exclude []string) bool {
	for _, pattern := range exclude {
		base := pattern
		if idx := strings.IndexAny(pattern, "*?["); idx >= 0 {
			base = pattern[:idx]
		}
		base = strings.TrimSuffix(base, "/")
		if base == "" {
			continue
		}
		if dirPath == base || strings.HasPrefix(base, dirPath+"/") {
			return true
		}
	}
	return false
}

// isWithinOneSecond reports whether two modification times differ by less than a second,
// used because some transports truncate sub-second precision.
func isWithinOneSecond(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < time.Second
}
