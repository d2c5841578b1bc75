package orchestrator

import (
	"context"
	"io"
	"mime"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPIntake lists and fetches submissions from a drop folder on an FTP
// server, where the scanning station uploads finished batches.
type FTPIntake struct {
	Host     string // host or host:port, port 21 assumed
	User     string
	Password string
	Path     string
	Timeout  time.Duration
}

// Fetch downloads every regular file in the drop folder.
func (f *FTPIntake) Fetch(ctx context.Context) ([]Submission, error) {
	host := f.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "intake: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	user, pass := f.User, f.Password
	if user == "" {
		user, pass = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, pass); err != nil {
		return nil, eris.Wrap(err, "intake: ftp login")
	}

	entries, err := conn.List(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: ftp list %s", f.Path)
	}

	var subs []Submission
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		resp, err := conn.Retr(filepath.Join(f.Path, e.Name))
		if err != nil {
			zap.L().Warn("intake: ftp retrieve failed", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		data, err := io.ReadAll(resp)
		resp.Close() //nolint:errcheck
		if err != nil {
			zap.L().Warn("intake: ftp read failed", zap.String("name", e.Name), zap.Error(err))
			continue
		}
		subs = append(subs, Submission{
			Filename:  e.Name,
			MediaType: mediaTypeFor(e.Name),
			Bytes:     data,
		})
	}

	zap.L().Info("intake: ftp fetch complete",
		zap.String("host", f.Host),
		zap.String("path", f.Path),
		zap.Int("files", len(subs)),
	)
	return subs, nil
}

// ReadDir builds submissions from the regular files in a local directory.
func ReadDir(dir string) ([]Submission, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: read dir %s", dir)
	}

	var subs []Submission
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "intake: read %s", e.Name())
		}
		subs = append(subs, Submission{
			Filename:  e.Name(),
			MediaType: mediaTypeFor(e.Name()),
			Bytes:     data,
		})
	}
	return subs, nil
}

// mediaTypeFor guesses a media type from the extension, defaulting to PDF
// since that is what the scanners produce.
func mediaTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = mt[:i]
		}
		return mt
	}
	return "application/pdf"
}
