package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/textsplitter"
)

// ErrNoText means the PDF parsed fine but yielded no extractable text,
// e.g. a scanned document without an OCR layer.
var ErrNoText = errors.New("pdf contains no extractable text")

// Loader turns a PDF file into overlapping text chunks ready for embedding.
type Loader struct {
	splitter textsplitter.RecursiveCharacter
}

func NewLoader(chunkSize, chunkOverlap int) *Loader {
	return &Loader{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// LoadAndChunkPDF extracts the plain text of the PDF at path and splits it.
func (l *Loader) LoadAndChunkPDF(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	text, err := extractText(f)
	if err != nil {
		return nil, fmt.Errorf("extract pdf text failed: %w", err)
	}
	return l.ChunkText(text)
}

// ChunkText splits already-extracted text into chunks.
func (l *Loader) ChunkText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	chunks, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text failed: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrNoText
	}
	return chunks, nil
}

func extractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", nil
	}

	readerAt := bytes.NewReader(b)
	pdfReader, err := pdf.NewReader(readerAt, int64(len(b)))
	if err != nil {
		return "", err
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
