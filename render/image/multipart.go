package image

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// formBuilder writes fields in call order; field order is part of the
// provider wire contracts.
type formBuilder struct {
	buf *bytes.Buffer
	w   *multipart.Writer
	err error
}

func newFormBuilder(buf *bytes.Buffer) *formBuilder {
	return &formBuilder{buf: buf, w: multipart.NewWriter(buf)}
}

func (f *formBuilder) field(name, value string) *formBuilder {
	if f.err == nil {
		f.err = f.w.WriteField(name, value)
	}
	return f
}

// optionalField skips empty values.
func (f *formBuilder) optionalField(name, value string) *formBuilder {
	if value == "" {
		return f
	}
	return f.field(name, value)
}

// file streams a local file as a part with a content type derived from its extension.
func (f *formBuilder) file(field, path string) *formBuilder {
	if f.err != nil {
		return f
	}
	src, err := os.Open(path)
	if err != nil {
		f.err = err
		return f
	}
	defer src.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filepath.Base(path))))
	h.Set("Content-Type", imageMIME(path))

	part, err := f.w.CreatePart(h)
	if err != nil {
		f.err = err
		return f
	}
	_, f.err = io.Copy(part, src)
	return f
}

// finish closes the writer and returns the body content type.
func (f *formBuilder) finish() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := f.w.Close(); err != nil {
		return "", err
	}
	return f.w.FormDataContentType(), nil
}
