package validator

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// Bucket names per the S3 rules: 3 to 63 characters, lowercase letters,
	// digits, dots and hyphens, starting and ending alphanumeric.
	s3BucketRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

	awsRegionRegex = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)
)

func isS3Bucket(fl validator.FieldLevel) bool {
	return s3BucketRegex.MatchString(fl.Field().String())
}

// isAWSRegion accepts region identifiers like "us-east-1" or "us-gov-west-1".
func isAWSRegion(fl validator.FieldLevel) bool {
	return awsRegionRegex.MatchString(fl.Field().String())
}

// RegisterCustomValidators registers the AWS-shaped tags the configuration
// structs declare, so a bad bucket name or region fails at load time instead
// of on the first call against the provider.
func RegisterCustomValidators(validate *validator.Validate) error {
	for tag, fn := range map[string]validator.Func{
		"s3_bucket":  isS3Bucket,
		"aws_region": isAWSRegion,
	} {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}
