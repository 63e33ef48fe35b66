package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/eteran/stagegate/pkg/s3err"
)

const (
	AWSv4Prefix    = "AWS4-HMAC-SHA256 "
	AWSv4Algorithm = "AWS4-HMAC-SHA256"
	AWSv4Terminal  = "aws4_request"
)

// SigV4AuthEngine verifies AWS Signature Version 4 header signatures using
// secrets released by a SecretSource.
type SigV4AuthEngine struct {
	secrets SecretSource
}

func NewSigV4AuthEngine(secrets SecretSource) *SigV4AuthEngine {
	return &SigV4AuthEngine{secrets: secrets}
}

func awsURLEncode(s string, encodeSlash bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		if c == '/' && !encodeSlash {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

func canonicalQueryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}

	values := u.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			parts = append(parts, awsURLEncode(k, true)+"="+awsURLEncode(v, true))
		}
	}

	return strings.Join(parts, "&")
}

func canonicalHeaderValue(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// BuildCanonicalRequest renders the SigV4 canonical request for r. The URI
// is encoded from the decoded path, as S3 signs it.
func BuildCanonicalRequest(r *http.Request, signedHeaderNames []string, payloadHash string) string {
	canonicalURI := awsURLEncode(r.URL.Path, false)
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	lowerNames := make([]string, 0, len(signedHeaderNames))
	for _, h := range signedHeaderNames {
		if name := strings.ToLower(strings.TrimSpace(h)); name != "" {
			lowerNames = append(lowerNames, name)
		}
	}

	var headers strings.Builder
	for _, name := range lowerNames {
		var value string
		if name == "host" {
			value = r.Host
			if value == "" {
				value = r.URL.Host
			}
		} else {
			value = strings.Join(r.Header.Values(name), ",")
		}
		headers.WriteString(name)
		headers.WriteString(":")
		headers.WriteString(canonicalHeaderValue(value))
		headers.WriteString("\n")
	}

	return strings.Join([]string{
		r.Method,
		canonicalURI,
		canonicalQueryString(r.URL),
		headers.String(),
		strings.Join(lowerNames, ";"),
		payloadHash,
	}, "\n")
}

func HmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// SigningKey derives the SigV4 signing key for one date/region/service scope.
func SigningKey(secret, dateStamp, region, service string) []byte {
	kDate := HmacSHA256([]byte("AWS4"+secret), dateStamp)
	kRegion := HmacSHA256(kDate, region)
	kService := HmacSHA256(kRegion, service)
	return HmacSHA256(kService, AWSv4Terminal)
}

// StringToSign builds the SigV4 string to sign for a canonical request.
func StringToSign(amzDate, credentialScope, canonicalRequest string) string {
	sum := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		AWSv4Algorithm,
		amzDate,
		credentialScope,
		hex.EncodeToString(sum[:]),
	}, "\n")
}

// Credential is the parsed Credential component of a SigV4 header.
type Credential struct {
	AccessKeyID string
	Date        string
	Region      string
	Service     string
}

// Scope returns the credential scope string.
func (c Credential) Scope() string {
	return strings.Join([]string{c.Date, c.Region, c.Service, AWSv4Terminal}, "/")
}

type authorizationHeader struct {
	Credential    Credential
	SignedHeaders []string
	Signature     []byte
}

var errMalformedAuthorization = errors.New("malformed SigV4 authorization header")

func parseAuthorization(header string) (authorizationHeader, error) {
	params := strings.TrimSpace(strings.TrimPrefix(header, AWSv4Prefix))
	kv := make(map[string]string, 3)
	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		kv[k] = strings.TrimSpace(v)
	}

	credStr, okCred := kv["Credential"]
	signedHeaders, okSigned := kv["SignedHeaders"]
	signatureHex, okSig := kv["Signature"]
	if !okCred || !okSigned || !okSig {
		return authorizationHeader{}, errMalformedAuthorization
	}

	credParts := strings.Split(credStr, "/")
	if len(credParts) != 5 || credParts[4] != AWSv4Terminal {
		return authorizationHeader{}, errMalformedAuthorization
	}
	cred := Credential{
		AccessKeyID: credParts[0],
		Date:        credParts[1],
		Region:      credParts[2],
		Service:     credParts[3],
	}
	if cred.AccessKeyID == "" || cred.Region == "" || cred.Service == "" {
		return authorizationHeader{}, errMalformedAuthorization
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return authorizationHeader{}, errMalformedAuthorization
	}

	return authorizationHeader{
		Credential:    cred,
		SignedHeaders: strings.Split(signedHeaders, ";"),
		Signature:     signature,
	}, nil
}

// AuthenticateRequest verifies the request signature. The secret is only
// requested once the header has parsed, so malformed requests never reach
// the credential stores.
func (e *SigV4AuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, AWSv4Prefix) {
		return nil, nil
	}

	parsed, err := parseAuthorization(header)
	if err != nil {
		return nil, s3err.AccessDenied.Wrap(err)
	}

	amzDate := r.Header.Get("X-Amz-Date")
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if amzDate == "" || payloadHash == "" {
		return nil, s3err.AccessDenied.Wrap(errors.New("missing X-Amz-Date or X-Amz-Content-Sha256"))
	}

	secret, err := e.secrets.GetSecretKey(ctx, parsed.Credential.AccessKeyID)
	if err != nil {
		return nil, err
	}

	canonical := BuildCanonicalRequest(r, parsed.SignedHeaders, payloadHash)
	stringToSign := StringToSign(amzDate, parsed.Credential.Scope(), canonical)
	key := SigningKey(secret, parsed.Credential.Date, parsed.Credential.Region, parsed.Credential.Service)

	if !hmac.Equal(HmacSHA256(key, stringToSign), parsed.Signature) {
		return nil, s3err.SignatureDoesNotMatch
	}

	return &User{AccessKeyID: parsed.Credential.AccessKeyID}, nil
}
