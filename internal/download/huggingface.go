package download

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/oscarAI2/llam4/internal/sku"
)

const defaultHFEndpoint = "https://huggingface.co"

type hfModelInfo struct {
	ID       string `json:"id"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

func hfFiles(ctx context.Context, client *http.Client, endpoint string, m sku.Model, token string) ([]remoteFile, error) {
	if m.HuggingFaceRepo == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRepo, m.Descriptor())
	}
	if endpoint == "" {
		endpoint = defaultHFEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/models/"+m.HuggingFaceRepo, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.HuggingFaceRepo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: unexpected status %d", m.HuggingFaceRepo, resp.StatusCode)
	}

	var info hfModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode %s listing: %w", m.HuggingFaceRepo, err)
	}
	out := make([]remoteFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.RFilename == "" || strings.HasPrefix(s.RFilename, ".") {
			continue
		}
		out = append(out, remoteFile{
			name:  s.RFilename,
			url:   endpoint + "/" + m.HuggingFaceRepo + "/resolve/main/" + escapePath(s.RFilename),
			token: token,
		})
	}
	return out, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func setHeaders(req *http.Request, token string) {
	req.Header.Set("User-Agent", userAgent())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
