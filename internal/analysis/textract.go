package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"

	"document-pipeline/internal/models"
)

// TextractAPI is the subset of the Textract client the service uses.
type TextractAPI interface {
	StartDocumentAnalysis(ctx context.Context, in *textract.StartDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.StartDocumentAnalysisOutput, error)
	GetDocumentAnalysis(ctx context.Context, in *textract.GetDocumentAnalysisInput, optFns ...func(*textract.Options)) (*textract.GetDocumentAnalysisOutput, error)
}

// TextractService runs asynchronous TABLES analysis on Textract.
type TextractService struct {
	client TextractAPI
	// Optional push notification on completion.
	topicARN string
	roleARN  string
}

// NewTextractService builds the service. topicARN and roleARN enable completion notifications when both are set.
func NewTextractService(client TextractAPI, topicARN, roleARN string) *TextractService {
	return &TextractService{client: client, topicARN: topicARN, roleARN: roleARN}
}

func (s *TextractService) Submit(ctx context.Context, sub Submission) (string, error) {
	obj := &types.S3Object{
		Bucket: aws.String(sub.Bucket),
		Name:   aws.String(sub.Key),
	}
	if sub.Version != "" {
		obj.Version = aws.String(sub.Version)
	}
	in := &textract.StartDocumentAnalysisInput{
		DocumentLocation: &types.DocumentLocation{S3Object: obj},
		FeatureTypes:     []types.FeatureType{types.FeatureTypeTables},
	}
	if sub.ClientToken != "" {
		in.ClientRequestToken = aws.String(sub.ClientToken)
	}
	if s.topicARN != "" && s.roleARN != "" {
		in.NotificationChannel = &types.NotificationChannel{
			SNSTopicArn: aws.String(s.topicARN),
			RoleArn:     aws.String(s.roleARN),
		}
	}
	out, err := s.client.StartDocumentAnalysis(ctx, in)
	if err != nil {
		return "", fmt.Errorf("start document analysis: %w", err)
	}
	jobID := aws.ToString(out.JobId)
	if jobID == "" {
		return "", errors.New("start document analysis: empty job id")
	}
	return jobID, nil
}

func (s *TextractService) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	out, err := s.client.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
		JobId:      aws.String(jobID),
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return "", fmt.Errorf("get document analysis status: %w", err)
	}
	return MapStatus(out.JobStatus), nil
}

// Result pages through the whole block graph of a job.
func (s *TextractService) Result(ctx context.Context, jobID string) (Result, error) {
	var res Result
	var next *string
	for {
		out, err := s.client.GetDocumentAnalysis(ctx, &textract.GetDocumentAnalysisInput{
			JobId:     aws.String(jobID),
			NextToken: next,
		})
		if err != nil {
			return Result{}, fmt.Errorf("get document analysis: %w", err)
		}
		res.Status = MapStatus(out.JobStatus)
		res.StatusMessage = aws.ToString(out.StatusMessage)
		if out.DocumentMetadata != nil {
			res.Pages = int(aws.ToInt32(out.DocumentMetadata.Pages))
		}
		res.Blocks = append(res.Blocks, out.Blocks...)
		next = out.NextToken
		if aws.ToString(next) == "" {
			return res, nil
		}
	}
}

// Permanent reports whether a submission error can never succeed on retry.
func Permanent(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "UnsupportedDocumentException",
		"BadDocumentException",
		"DocumentTooLargeException",
		"InvalidS3ObjectException",
		"InvalidParameterException",
		"IdempotentParameterMismatchException",
		"AccessDeniedException":
		return true
	}
	return false
}
