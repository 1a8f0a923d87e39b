package hashaddr

import (
	_ "crypto/sha256"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

const (
	headerPrefix = "header:"
	queryPrefix  = "query:"
)

// Param 是请求描述中的一个有序键值参数。键以 header:/query: 前缀区分用途，
// 无前缀的键按请求头处理。
type Param struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Header 构造请求头参数。
func Header(name, value string) Param {
	return Param{Key: headerPrefix + name, Value: value}
}

// Query 构造查询串参数。
func Query(name, value string) Param {
	return Param{Key: queryPrefix + name, Value: value}
}

// IsQuery 判断参数是否作用于查询串，并返回去掉前缀后的名称。
func (p Param) IsQuery() (string, bool) {
	if strings.HasPrefix(p.Key, queryPrefix) {
		return strings.TrimPrefix(p.Key, queryPrefix), true
	}
	return "", false
}

// HeaderName 返回参数对应的请求头名称。
func (p Param) HeaderName() string {
	return strings.TrimPrefix(p.Key, headerPrefix)
}

// Request 描述一次抓取：URL 加上影响响应内容的全部参数。计算 key 之后不应再修改。
type Request struct {
	URL    string
	Params []Param
}

// NewRequest 复制 params，避免调用方在计算 key 后修改底层切片。
func NewRequest(url string, params ...Param) Request {
	req := Request{URL: url}
	if len(params) > 0 {
		req.Params = append([]Param(nil), params...)
	}
	return req
}

// KeyPolicy 决定 lookup key 由请求描述的哪些部分参与计算。
type KeyPolicy int

const (
	// KeyURL 只对 URL 取摘要，参数不同但 URL 相同的请求会共享同一条缓存。
	KeyURL KeyPolicy = iota
	// KeyDescriptor 对 URL 与全部参数按顺序取摘要。
	KeyDescriptor
)

// ParseKeyPolicy 解析配置中的 url/descriptor 字符串，空值回退到 KeyURL。
func ParseKeyPolicy(raw string) (KeyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "url":
		return KeyURL, nil
	case "descriptor":
		return KeyDescriptor, nil
	default:
		return KeyURL, fmt.Errorf("unknown key policy: %s", raw)
	}
}

func (p KeyPolicy) String() string {
	if p == KeyDescriptor {
		return "descriptor"
	}
	return "url"
}

// LookupKey 计算请求描述的索引键。
func (p KeyPolicy) LookupKey(req Request) digest.Digest {
	if p != KeyDescriptor || len(req.Params) == 0 {
		return digest.SHA256.FromString(req.URL)
	}

	var b strings.Builder
	b.WriteString(req.URL)
	for _, param := range req.Params {
		// 长度前缀保证 ("a","bc") 与 ("ab","c") 不会得到相同编码
		fmt.Fprintf(&b, "\n%d:%s%d:%s", len(param.Key), param.Key, len(param.Value), param.Value)
	}
	return digest.SHA256.FromString(b.String())
}

// ContentID 计算响应正文的内容标识。
func ContentID(data []byte) digest.Digest {
	return digest.SHA256.FromBytes(data)
}

// ParseHex 将十六进制编码（文件名/索引值）还原为 sha256 digest 并校验格式。
func ParseHex(encoded string) (digest.Digest, error) {
	d := digest.NewDigestFromEncoded(digest.SHA256, encoded)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("invalid content id %q: %w", encoded, err)
	}
	return d, nil
}
