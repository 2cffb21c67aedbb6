package download

import (
	"fmt"
	"strings"

	"github.com/oscarAI2/llam4/internal/sku"
)

// MetaFileNames lists what a Meta signed URL serves for m.
func MetaFileNames(m sku.Model) []string {
	files := []string{ChecklistFile, "params.json", "tokenizer.model"}
	for i := range m.PthFileCount {
		files = append(files, fmt.Sprintf("consolidated.%02d.safetensors", i))
	}
	return files
}

func metaFiles(m sku.Model, signedURL string) ([]remoteFile, error) {
	signedURL = strings.TrimSpace(signedURL)
	if signedURL == "" {
		return nil, ErrMissingURL
	}
	if !strings.Contains(signedURL, "*") {
		return nil, fmt.Errorf("%w: URL has no '*' placeholder", ErrMissingURL)
	}
	var out []remoteFile
	for _, name := range MetaFileNames(m) {
		out = append(out, remoteFile{
			name: name,
			url:  strings.Replace(signedURL, "*", m.Descriptor()+"/"+name, 1),
		})
	}
	return out, nil
}
