package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"media-relay/internal/domain"
)

const (
	minSessionDuration     = 15 * time.Minute
	maxSessionDuration     = 12 * time.Hour
	defaultSessionDuration = time.Hour
	defaultSessionName     = "media-relay"
)

// stsAPI is the minimal AWS STS interface required by Broker.
// *sts.Client from aws-sdk-go-v2 satisfies this interface.
type stsAPI interface {
	AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Broker issues short-lived credentials by assuming a dedicated upload role.
type Broker struct {
	api         stsAPI
	roleARN     string
	sessionName string
	duration    time.Duration
}

// NewBroker validates the role settings. A zero duration defaults to one hour.
func NewBroker(api stsAPI, roleARN, sessionName string, duration time.Duration) (*Broker, error) {
	if api == nil {
		return nil, errors.New("credentials: api must not be nil")
	}
	roleARN = strings.TrimSpace(roleARN)
	if !strings.HasPrefix(roleARN, "arn:") {
		return nil, fmt.Errorf("credentials: invalid role ARN %q", roleARN)
	}
	sessionName = strings.TrimSpace(sessionName)
	if sessionName == "" {
		sessionName = defaultSessionName
	}
	if duration == 0 {
		duration = defaultSessionDuration
	}
	if duration < minSessionDuration || duration > maxSessionDuration {
		return nil, fmt.Errorf("credentials: session duration %s outside [%s, %s]", duration, minSessionDuration, maxSessionDuration)
	}
	return &Broker{
		api:         api,
		roleARN:     roleARN,
		sessionName: sessionName,
		duration:    duration,
	}, nil
}

// SessionDuration is how long issued credentials stay valid.
func (b *Broker) SessionDuration() time.Duration {
	return b.duration
}

func (b *Broker) AssumeRole(ctx context.Context) (domain.Credentials, error) {
	out, err := b.api.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(b.roleARN),
		RoleSessionName: aws.String(b.sessionName),
		DurationSeconds: aws.Int32(int32(b.duration / time.Second)),
	})
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("credentials: assume role %s: %w", b.roleARN, err)
	}
	if out == nil || out.Credentials == nil {
		return domain.Credentials{}, errors.New("credentials: assume role returned no credentials")
	}
	c := out.Credentials
	creds := domain.Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
		Expires:         aws.ToTime(c.Expiration),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return domain.Credentials{}, errors.New("credentials: assume role returned incomplete credentials")
	}
	return creds, nil
}
