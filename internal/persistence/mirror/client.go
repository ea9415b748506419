package mirror

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind names what a run artifact holds. It picks the content type and is
// stored with the object as x-amz-meta-kind.
type Kind string

const (
	KindResult  Kind = "result"
	KindJournal Kind = "journal"
	KindIndex   Kind = "index"
	KindOther   Kind = "other"
)

func kindOf(localPath string) Kind {
	base := filepath.Base(localPath)
	switch {
	case strings.HasSuffix(base, ".jsonl.zst"):
		return KindJournal
	case strings.HasSuffix(base, ".json.zst"), strings.HasSuffix(base, ".json"):
		return KindResult
	case strings.HasSuffix(base, ".sqlite"):
		return KindIndex
	}
	return KindOther
}

func (k Kind) contentType(localPath string) string {
	switch k {
	case KindJournal:
		return "application/zstd"
	case KindResult:
		if strings.HasSuffix(localPath, ".zst") {
			return "application/zstd"
		}
		return "application/json"
	case KindIndex:
		return "application/vnd.sqlite3"
	}
	return "application/octet-stream"
}

// Artifact is one local file produced by a finished run.
type Artifact struct {
	RunID string
	Kind  Kind
	Path  string
}

// NewArtifact checks that runID can be used as a single key segment and that
// localPath is a regular file.
func NewArtifact(runID, localPath string) (Artifact, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, "/\\") {
		return Artifact{}, fmt.Errorf("invalid run id %q", runID)
	}
	st, err := os.Stat(localPath)
	if err != nil {
		return Artifact{}, err
	}
	if !st.Mode().IsRegular() {
		return Artifact{}, fmt.Errorf("not a regular file: %s", localPath)
	}
	return Artifact{RunID: runID, Kind: kindOf(localPath), Path: localPath}, nil
}

// Key is <prefix>/<run id>/<file base name>.
func (a Artifact) Key(prefix string) string {
	key := path.Join(a.RunID, filepath.Base(a.Path))
	if prefix != "" {
		key = path.Join(prefix, key)
	}
	return key
}

type credentials struct {
	accessKeyID string
	secret      string
	region      string
}

// Client puts run artifacts into an S3-compatible bucket with path-style
// SigV4 requests.
type Client struct {
	bucketURL string
	creds     credentials
	http      *http.Client
	now       func() time.Time
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	creds := credentials{
		accessKeyID: strings.TrimSpace(cfg.AccessKeyID),
		secret:      strings.TrimSpace(cfg.SecretAccessKey),
		region:      strings.TrimSpace(cfg.Region),
	}
	if creds.region == "" {
		creds.region = "auto"
	}
	if endpoint == "" || bucket == "" || creds.accessKeyID == "" || creds.secret == "" {
		return nil, fmt.Errorf("mirror: endpoint, bucket and both keys are required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("mirror endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("mirror endpoint: unsupported %q", endpoint)
	}
	return &Client{
		bucketURL: strings.TrimRight(u.String(), "/") + "/" + url.PathEscape(bucket),
		creds:     creds,
		http:      &http.Client{Timeout: 2 * time.Minute},
		now:       time.Now,
	}, nil
}

// Put uploads a under prefix, tagging it with its run id and kind.
func (c *Client) Put(ctx context.Context, prefix string, a Artifact) error {
	body, err := os.ReadFile(a.Path)
	if err != nil {
		return err
	}
	key := a.Key(prefix)
	segments := strings.Split(key, "/")
	for i := range segments {
		segments[i] = url.PathEscape(segments[i])
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.bucketURL+"/"+strings.Join(segments, "/"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", a.Kind.contentType(a.Path))
	req.Header.Set("x-amz-meta-run-id", a.RunID)
	req.Header.Set("x-amz-meta-kind", string(a.Kind))
	digest := sha256.Sum256(body)
	c.creds.sign(req, hex.EncodeToString(digest[:]), c.now().UTC())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("mirror put %s: status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(msg)))
}

func (c credentials) sign(req *http.Request, payloadHash string, at time.Time) {
	amzDate := at.Format("20060102T150405Z")
	day := at.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	names, block := canonicalHeaders(req)
	canonical := strings.Join([]string{
		req.Method, req.URL.EscapedPath(), req.URL.RawQuery, block, names, payloadHash,
	}, "\n")
	scope := day + "/" + c.region + "/s3/aws4_request"
	toSign := "AWS4-HMAC-SHA256\n" + amzDate + "\n" + scope + "\n" + hexDigest(canonical)

	key := []byte("AWS4" + c.secret)
	for _, part := range []string{day, c.region, "s3", "aws4_request"} {
		key = hmacSum(key, part)
	}
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		c.accessKeyID, scope, names, hex.EncodeToString(hmacSum(key, toSign)),
	))
}

// canonicalHeaders covers host and every x-amz-* header, lower-cased and
// sorted by name.
func canonicalHeaders(req *http.Request) (names, block string) {
	values := map[string]string{"host": req.URL.Host}
	for k, v := range req.Header {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-amz-") {
			values[lk] = strings.TrimSpace(strings.Join(v, ","))
		}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + ":" + values[k] + "\n")
	}
	return strings.Join(keys, ";"), b.String()
}

func hexDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hmacSum(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write([]byte(data))
	return h.Sum(nil)
}
