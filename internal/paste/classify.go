// Package paste turns clipboard payloads into canvas blocks.
//
// Classify decides which block a paste creates, in priority order: a file
// attachment, a git-hosting URL, any other web URL, and plain text. The
// Ingestor creates the block through a Sink and finishes file uploads in
// the background.
package paste

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/roach88/tessera/internal/ir"
)

// ErrEmpty is returned for a payload with nothing to paste.
var ErrEmpty = errors.New("empty paste payload")

// Payload is one clipboard paste. A payload may carry several flavors;
// the first file attachment wins, then Text, then the text of HTML.
type Payload struct {
	Files []ir.Attachment
	Text  string
	HTML  string
}

// Classification is the single block a payload becomes.
type Classification struct {
	Type ir.BlockType
	Data ir.BlockData
	// File is the attachment to upload, set for file blocks only.
	File *ir.Attachment
}

// Classify maps a payload to the block it creates.
func Classify(p Payload) (Classification, error) {
	if len(p.Files) > 0 {
		f := p.Files[0]
		return Classification{
			Type: ir.BlockFile,
			Data: ir.BlockData{Payload: ir.FilePayload{
				Name:     f.Name,
				Size:     attachmentSize(f),
				MimeType: f.MimeType,
				Status:   ir.FileUploading,
			}},
			File: &f,
		}, nil
	}

	text := p.Text
	if strings.TrimSpace(text) == "" && p.HTML != "" {
		text = HTMLText(p.HTML)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{}, ErrEmpty
	}

	if u, ok := parseWebURL(trimmed); ok {
		if gh, ok := githubPayload(u); ok {
			return Classification{Type: ir.BlockGithub, Data: ir.BlockData{Payload: gh}}, nil
		}
		return Classification{
			Type: ir.BlockLink,
			Data: ir.BlockData{Payload: ir.LinkPayload{URL: u.String()}},
		}, nil
	}

	return Classification{
		Type: ir.BlockText,
		Data: ir.BlockData{Content: text},
	}, nil
}

func attachmentSize(f ir.Attachment) int64 {
	if f.Size > 0 {
		return f.Size
	}
	return int64(len(f.Data))
}

// parseWebURL accepts a single http(s) URL, or a bare "www." host, with a
// valid internationalized host name.
func parseWebURL(s string) (*url.URL, bool) {
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, false
	}
	if strings.HasPrefix(strings.ToLower(s), "www.") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if !validHost(u.Hostname()) {
		return nil, false
	}
	return u, true
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil || strings.EqualFold(host, "localhost") {
		return true
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return false
	}
	// Require a dotted name with a non-empty final label.
	i := strings.LastIndexByte(ascii, '.')
	return i > 0 && i < len(ascii)-1
}

var githubHosts = map[string]bool{
	"github.com":     true,
	"www.github.com": true,
}

// githubPayload recognizes repository, issue, pull request, tree and blob
// URLs on the git host.
func githubPayload(u *url.URL) (ir.GithubPayload, bool) {
	if !githubHosts[strings.ToLower(u.Hostname())] {
		return ir.GithubPayload{}, false
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) < 2 {
		return ir.GithubPayload{}, false
	}
	p := ir.GithubPayload{
		URL:   u.String(),
		Owner: segs[0],
		Repo:  strings.TrimSuffix(segs[1], ".git"),
		Kind:  "repo",
	}
	if len(segs) == 2 {
		return p, true
	}

	switch segs[2] {
	case "issues", "pull":
		if len(segs) < 4 {
			return p, true
		}
		n, err := strconv.ParseInt(segs[3], 10, 64)
		if err != nil || n <= 0 {
			return p, true
		}
		p.Kind = map[string]string{"issues": "issue", "pull": "pull"}[segs[2]]
		p.Number = n
	case "tree", "blob":
		p.Kind = segs[2]
	}
	return p, true
}
