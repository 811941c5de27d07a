package channel

import (
	"context"

	"donor-matching/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SESService is the subset of *ses.Client used here.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSService is the subset of *sns.Client used here.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type EmailChannel struct {
	client SESService
	from   string
}

func NewEmailChannel(client SESService, from string) *EmailChannel {
	return &EmailChannel{client: client, from: from}
}

func (c *EmailChannel) Send(ctx context.Context, msg models.Message) (Receipt, error) {
	if msg.Recipient.Email == "" {
		return Receipt{}, ErrUnreachable
	}
	out, err := c.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
			},
		},
		Source: aws.String(c.from),
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Channel: "email", MessageID: aws.ToString(out.MessageId)}, nil
}

type SMSChannel struct {
	client   SNSService
	senderID string
}

func NewSMSChannel(client SNSService, senderID string) *SMSChannel {
	return &SMSChannel{client: client, senderID: senderID}
}

func (c *SMSChannel) Send(ctx context.Context, msg models.Message) (Receipt, error) {
	if msg.Recipient.Phone == "" {
		return Receipt{}, ErrUnreachable
	}
	in := &sns.PublishInput{
		PhoneNumber: aws.String(msg.Recipient.Phone),
		Message:     aws.String(msg.Subject + ": " + msg.Body),
	}
	if c.senderID != "" {
		in.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(c.senderID)},
		}
	}
	out, err := c.client.Publish(ctx, in)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Channel: "sms", MessageID: aws.ToString(out.MessageId)}, nil
}
