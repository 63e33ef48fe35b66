// Package authtest signs requests the way S3 clients do, for tests.
package authtest

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/eteran/stagegate/pkg/auth"
)

// SignTime is the fixed timestamp used by SignRequest.
var SignTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// SignRequest adds a SigV4 Authorization header to r for region/s3. The
// payload is signed as UNSIGNED-PAYLOAD unless X-Amz-Content-Sha256 is
// already set.
func SignRequest(r *http.Request, accessKey, secretKey, region string) {
	const service = "s3"

	amzDate := SignTime.Format("20060102T150405Z")
	dateStamp := SignTime.Format("20060102")

	if r.Host == "" {
		r.Host = r.URL.Host
	}
	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	}
	r.Header.Set("X-Amz-Date", amzDate)

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	cred := auth.Credential{AccessKeyID: accessKey, Date: dateStamp, Region: region, Service: service}

	canonical := auth.BuildCanonicalRequest(r, signedHeaders, r.Header.Get("X-Amz-Content-Sha256"))
	stringToSign := auth.StringToSign(amzDate, cred.Scope(), canonical)
	sig := auth.HmacSHA256(auth.SigningKey(secretKey, dateStamp, region, service), stringToSign)

	r.Header.Set("Authorization", strings.Join([]string{
		auth.AWSv4Prefix + "Credential=" + accessKey + "/" + cred.Scope(),
		"SignedHeaders=" + strings.Join(signedHeaders, ";"),
		"Signature=" + hex.EncodeToString(sig),
	}, ", "))
}
