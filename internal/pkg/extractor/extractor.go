// Package extractor 把上传文件或网页转换为纯文本
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/xuri/excelize/v2"

	"botforge/internal/model/source"
)

var (
	ErrUnsupportedKind = errors.New("unsupported source kind")
	ErrFetchFailed     = errors.New("fetch failed")
	ErrExtractFailed   = errors.New("extract failed")
)

// Format 文件格式
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
)

var formatByExt = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".xlsx":     FormatXLSX,
	".csv":      FormatCSV,
	".txt":      FormatTXT,
	".md":       FormatTXT,
	".markdown": FormatTXT,
}

var formatByMIME = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXLSX,
	"text/csv":      FormatCSV,
	"text/plain":    FormatTXT,
	"text/markdown": FormatTXT,
}

// ContentType 格式对应的 MIME
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	case FormatTXT:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// DetectFormat 根据文件扩展名识别格式
func DetectFormat(filename string) (Format, error) {
	f, ok := formatByExt[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return "", fmt.Errorf("%w: file %q", ErrUnsupportedKind, filename)
	}
	return f, nil
}

// Input 待提取的内容
type Input struct {
	Kind     source.Kind
	Data     []byte // file 的原始字节，text 的文本
	URL      string
	FileName string
}

// Options 提取配置
type Options struct {
	FetchTimeout  time.Duration
	MaxFetchBytes int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Extractor 文本提取器，无副作用
type Extractor struct {
	client        *http.Client
	fetchTimeout  time.Duration
	maxFetchBytes int64
	userAgent     string
}

// New 创建提取器
func New(opts Options) *Extractor {
	e := &Extractor{
		client:        opts.HTTPClient,
		fetchTimeout:  opts.FetchTimeout,
		maxFetchBytes: opts.MaxFetchBytes,
		userAgent:     opts.UserAgent,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = 30 * time.Second
	}
	if e.maxFetchBytes <= 0 {
		e.maxFetchBytes = 10 << 20
	}
	if e.userAgent == "" {
		e.userAgent = "Mozilla/5.0 (compatible; botforge/1.0)"
	}
	return e
}

// Extract 按类型提取纯文本
func (e *Extractor) Extract(ctx context.Context, in Input) (string, error) {
	switch in.Kind {
	case source.KindText:
		return decodeText(in.Data), nil
	case source.KindFile:
		format, err := DetectFormat(in.FileName)
		if err != nil {
			return "", err
		}
		return extractBytes(format, in.Data)
	case source.KindURL:
		return e.fetch(ctx, in.URL)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, in.Kind)
	}
}

// ValidateURL 只接受 http/https 绝对地址
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", ErrFetchFailed, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", ErrFetchFailed, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: url has no host", ErrFetchFailed)
	}
	return u, nil
}

func extractBytes(format Format, data []byte) (string, error) {
	switch format {
	case FormatTXT, FormatCSV:
		return decodeText(data), nil
	case FormatXLSX:
		return extractXLSX(data)
	case FormatPDF, FormatDOCX:
		res, err := docconv.Convert(bytes.NewReader(data), format.ContentType(), false)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrExtractFailed, format, err)
		}
		// pdftotext 用换页符分隔页面
		body := strings.ReplaceAll(res.Body, "\f", "\n")
		return strings.TrimSpace(decodeText([]byte(body))), nil
	default:
		return "", fmt.Errorf("%w: format %q", ErrUnsupportedKind, format)
	}
}

// decodeText 按 UTF-8 解码，非法字节替换为 U+FFFD
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "�")
}

// extractXLSX 每个工作表输出表名，随后每行以制表符连接
func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %v", ErrExtractFailed, err)
	}
	defer f.Close()

	var b strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("%w: xlsx sheet %q: %v", ErrExtractFailed, sheet, err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// fetch 抓取网页；返回文档类型时按文件格式提取
func (e *Extractor) fetch(ctx context.Context, raw string) (string, error) {
	u, err := ValidateURL(raw)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > e.maxFetchBytes {
		return "", fmt.Errorf("%w: %s response exceeds %d bytes", ErrFetchFailed, u.Host, e.maxFetchBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if format, ok := formatByMIME[mediaType]; ok && format != FormatTXT {
		return extractBytes(format, body)
	}
	if mediaType == "text/plain" {
		return decodeText(body), nil
	}
	return htmlText(body)
}
