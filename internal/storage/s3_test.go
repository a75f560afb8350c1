package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient() *s3.Client {
	return s3.New(s3.Options{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
		BaseEndpoint: aws.String("http://127.0.0.1:9000"),
		UsePathStyle: true,
	})
}

func TestS3Service_Key(t *testing.T) {
	assert.Equal(t, "archives/job.zip", NewS3Service(testClient(), "b", "/archives/").Key("job.zip"))
	assert.Equal(t, "job.zip", NewS3Service(testClient(), "b", "").Key("/job.zip"))
}

func TestS3Service_PresignGet(t *testing.T) {
	svc := NewS3Service(testClient(), "bucket", "archives")

	raw, err := svc.PresignGet(context.Background(), "job-1.zip", "Road Trip.zip", 15*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/bucket/archives/job-1.zip", u.Path)
	q := u.Query()
	assert.Equal(t, "900", q.Get("X-Amz-Expires"))
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))
	assert.Contains(t, q.Get("response-content-disposition"), `filename="Road Trip.zip"`)
}

func TestS3Service_RequiresBucket(t *testing.T) {
	svc := NewS3Service(testClient(), "", "")
	_, err := svc.PresignGet(context.Background(), "x", "", time.Minute)
	assert.Error(t, err)
	_, err = svc.UploadFile(context.Background(), "/nope", "x", UploadOptions{})
	assert.Error(t, err)
}

func TestProgressReporter(t *testing.T) {
	var calls [][2]int64
	p := newProgressReporter(10, func(done, total int64) { calls = append(calls, [2]int64{done, total}) })
	p.report(0)
	_, _ = p.Write(make([]byte, 10))
	p.flush()
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{10, 10}, calls[len(calls)-1])
	assert.Nil(t, newProgressReporter(1, nil))
}
