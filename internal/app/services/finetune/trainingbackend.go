package finetune

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"github.com/playforge-studio/modelplane/internal/app/domain/finetune"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

// TrainingJobSpec is everything a TrainingBackend needs to start a run.
// Artifacts and the training cluster itself are out of scope per spec.md
// §4.9 — this is the submission contract only.
type TrainingJobSpec struct {
	JobName         string
	BaseModelName   string
	Hyperparameters finetune.Hyperparameters
	TrainDataURI    string
	ValDataURI      string
	InstanceType    string
}

// TrainingBackend submits a fine-tuning run to an external training
// cluster and reports back an opaque handle the orchestrator can persist
// on the FineTuneJob record. Implementations seen in the example corpus
// target SageMaker; this interface lets that (or any other cluster API)
// be swapped out in tests.
type TrainingBackend interface {
	Submit(ctx context.Context, spec TrainingJobSpec) (handle string, err error)
}

// DatasetUploader writes the formatted JSONL datasets to object storage.
type DatasetUploader struct {
	client *s3.Client
	bucket string
}

// NewDatasetUploader constructs an uploader over an already-configured S3
// client (region/credentials resolved by the caller via aws-sdk-go-v2/config).
func NewDatasetUploader(client *s3.Client, bucket string) *DatasetUploader {
	return &DatasetUploader{client: client, bucket: bucket}
}

// upload writes body to {bucket}/{key} and returns the s3:// URI, matching
// the `{bucket}/{prefix}/{timestamp}/{train|validation}.jsonl` layout
// named in spec.md §4.9 step 7.
func (u *DatasetUploader) upload(ctx context.Context, key string, body []byte) (string, error) {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

// instanceTypeForSize maps instanceSizeForModel's heavy/mid/small bucket to
// a concrete SageMaker instance type, per the original's create_training_job
// InstanceType selection.
var instanceTypeForSize = map[string]string{
	"heavy": "ml.p4d.24xlarge",
	"mid":   "ml.g5.12xlarge",
	"small": "ml.g5.2xlarge",
}

// SageMakerTrainingBackend submits training jobs to AWS SageMaker, grounded
// on original_source/services/model_management/fine_tuning_pipeline.py's
// sagemaker_client.create_training_job call.
type SageMakerTrainingBackend struct {
	client           *sagemaker.Client
	executionRoleARN string
	outputBucket     string
	log              *logger.Logger
}

// NewSageMakerTrainingBackend constructs a backend over an already
// configured SageMaker client. executionRoleARN is the IAM role SageMaker
// assumes to read training data and write model artifacts, matching the
// original's SAGEMAKER_EXECUTION_ROLE_ARN requirement.
func NewSageMakerTrainingBackend(client *sagemaker.Client, executionRoleARN, outputBucket string, log *logger.Logger) *SageMakerTrainingBackend {
	if log == nil {
		log = logger.NewDefault("finetune-sagemaker")
	}
	return &SageMakerTrainingBackend{client: client, executionRoleARN: executionRoleARN, outputBucket: outputBucket, log: log}
}

// Submit implements TrainingBackend.
func (b *SageMakerTrainingBackend) Submit(ctx context.Context, spec TrainingJobSpec) (string, error) {
	instanceType := spec.InstanceType
	if mapped, ok := instanceTypeForSize[instanceType]; ok {
		instanceType = mapped
	}
	if instanceType == "" {
		instanceType = instanceTypeForSize[instanceSizeForModel(spec.BaseModelName)]
	}

	hp := map[string]string{
		"method":        spec.Hyperparameters.Method,
		"base_model":    spec.BaseModelName,
		"learning_rate": strconv.FormatFloat(spec.Hyperparameters.LearningRate, 'g', -1, 64),
		"epochs":        strconv.Itoa(spec.Hyperparameters.Epochs),
		"batch_size":    strconv.Itoa(spec.Hyperparameters.BatchSize),
	}
	if spec.Hyperparameters.Method == "lora" {
		hp["lora_rank"] = strconv.Itoa(spec.Hyperparameters.Rank)
		hp["lora_alpha"] = strconv.Itoa(spec.Hyperparameters.Alpha)
	}

	out, err := b.client.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(spec.JobName),
		RoleArn:         aws.String(b.executionRoleARN),
		HyperParameters: hp,
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingInputMode: types.TrainingInputModeFile,
			TrainingImage:     aws.String("763104351884.dkr.ecr.us-east-1.amazonaws.com/huggingface-pytorch-training:2.1-transformers4.36-gpu-py310"),
		},
		InputDataConfig: []types.Channel{
			{
				ChannelName: aws.String("train"),
				DataSource: &types.DataSource{
					S3DataSource: &types.S3DataSource{
						S3DataType: types.S3DataTypeS3Prefix,
						S3Uri:      aws.String(spec.TrainDataURI),
					},
				},
			},
			{
				ChannelName: aws.String("validation"),
				DataSource: &types.DataSource{
					S3DataSource: &types.S3DataSource{
						S3DataType: types.S3DataTypeS3Prefix,
						S3Uri:      aws.String(spec.ValDataURI),
					},
				},
			},
		},
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(fmt.Sprintf("s3://%s/output/%s", b.outputBucket, spec.JobName)),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   types.TrainingInstanceType(instanceType),
			InstanceCount:  aws.Int32(1),
			VolumeSizeInGB: aws.Int32(100),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(24 * 3600),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create sagemaker training job %s: %w", spec.JobName, err)
	}
	b.log.WithField("job_arn", aws.ToString(out.TrainingJobArn)).Info("submitted sagemaker training job")
	return spec.JobName, nil
}

// instanceSizeForModel derives GPU sizing from base model scale, per
// spec.md §4.9 step 8: "70B => heavy GPU, 13B => mid, 7B => small".
func instanceSizeForModel(baseModelName string) string {
	lower := strings.ToLower(baseModelName)
	for _, marker := range []struct {
		substr string
		size   string
	}{
		{"70b", "heavy"},
		{"65b", "heavy"},
		{"34b", "mid"},
		{"13b", "mid"},
		{"7b", "small"},
	} {
		if strings.Contains(lower, marker.substr) {
			return marker.size
		}
	}
	return "small"
}
