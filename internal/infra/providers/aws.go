package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

const (
	defaultLogLimit = 100
	maxLogEvents    = 1000
)

type autoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	StartInstanceRefresh(ctx context.Context, params *autoscaling.StartInstanceRefreshInput, optFns ...func(*autoscaling.Options)) (*autoscaling.StartInstanceRefreshOutput, error)
}

type ecsAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
}

type logsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// AWSAdapter executes operations against AWS. Bindings select the concrete
// API by kind: asg, ecs, or ec2 for compute verbs, CloudWatch Logs for log
// queries regardless of kind.
type AWSAdapter struct {
	asg  autoScalingAPI
	ecs  ecsAPI
	ec2  ec2API
	logs logsAPI
}

// NewAWSAdapter builds the adapter from a resolved AWS configuration.
func NewAWSAdapter(cfg aws.Config) *AWSAdapter {
	return &AWSAdapter{
		asg:  autoscaling.NewFromConfig(cfg),
		ecs:  ecs.NewFromConfig(cfg),
		ec2:  ec2.NewFromConfig(cfg),
		logs: cloudwatchlogs.NewFromConfig(cfg),
	}
}

func (a *AWSAdapter) Name() string { return "aws" }

func (a *AWSAdapter) GetStatus(ctx context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	switch binding.Kind {
	case "asg":
		return a.asgStatus(ctx, binding)
	case "ecs":
		return a.ecsStatus(ctx, binding)
	case "ec2":
		return a.ec2Status(ctx, binding)
	default:
		return domain.StatusSnapshot{}, unsupported(binding.Kind, "get_status")
	}
}

func (a *AWSAdapter) Scale(ctx context.Context, binding domain.ResourceBinding, target int32) (domain.OperationResult, error) {
	switch binding.Kind {
	case "asg":
		input := &autoscaling.SetDesiredCapacityInput{
			AutoScalingGroupName: aws.String(binding.Ref),
			DesiredCapacity:      aws.Int32(target),
			HonorCooldown:        aws.Bool(false),
		}
		if _, err := a.asg.SetDesiredCapacity(ctx, input, asgRegion(binding.Region)); err != nil {
			return domain.OperationResult{}, classifyAWS("scaling auto scaling group", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("set desired capacity of %s to %d", binding.Ref, target),
			Details: map[string]string{"target_capacity": strconv.Itoa(int(target))},
		}, nil

	case "ecs":
		input := &ecs.UpdateServiceInput{
			Cluster:      aws.String(ecsCluster(binding)),
			Service:      aws.String(binding.Ref),
			DesiredCount: aws.Int32(target),
		}
		if _, err := a.ecs.UpdateService(ctx, input, ecsRegion(binding.Region)); err != nil {
			return domain.OperationResult{}, classifyAWS("scaling ecs service", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("set desired count of %s to %d", binding.Ref, target),
			Details: map[string]string{"target_capacity": strconv.Itoa(int(target))},
		}, nil

	default:
		return domain.OperationResult{}, unsupported(binding.Kind, "scale")
	}
}

func (a *AWSAdapter) Restart(ctx context.Context, binding domain.ResourceBinding) (domain.OperationResult, error) {
	switch binding.Kind {
	case "asg":
		input := &autoscaling.StartInstanceRefreshInput{
			AutoScalingGroupName: aws.String(binding.Ref),
		}
		out, err := a.asg.StartInstanceRefresh(ctx, input, asgRegion(binding.Region))
		if err != nil {
			return domain.OperationResult{}, classifyAWS("refreshing auto scaling group", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("started rolling instance refresh on %s", binding.Ref),
			Details: map[string]string{"refresh_id": aws.ToString(out.InstanceRefreshId)},
		}, nil

	case "ecs":
		input := &ecs.UpdateServiceInput{
			Cluster:            aws.String(ecsCluster(binding)),
			Service:            aws.String(binding.Ref),
			ForceNewDeployment: true,
		}
		if _, err := a.ecs.UpdateService(ctx, input, ecsRegion(binding.Region)); err != nil {
			return domain.OperationResult{}, classifyAWS("restarting ecs service", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("forced new deployment of %s", binding.Ref),
		}, nil

	case "ec2":
		input := &ec2.RebootInstancesInput{InstanceIds: []string{binding.Ref}}
		if _, err := a.ec2.RebootInstances(ctx, input, ec2Region(binding.Region)); err != nil {
			return domain.OperationResult{}, classifyAWS("rebooting instance", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("reboot requested for %s", binding.Ref),
		}, nil

	default:
		return domain.OperationResult{}, unsupported(binding.Kind, "restart")
	}
}

func (a *AWSAdapter) Deploy(ctx context.Context, binding domain.ResourceBinding, version, strategy string) (domain.OperationResult, error) {
	switch binding.Kind {
	case "asg":
		// The launch template update carrying the version happens out of
		// band; the refresh rolls instances onto whatever is current.
		input := &autoscaling.StartInstanceRefreshInput{
			AutoScalingGroupName: aws.String(binding.Ref),
			Strategy:             astypes.RefreshStrategyRolling,
		}
		out, err := a.asg.StartInstanceRefresh(ctx, input, asgRegion(binding.Region))
		if err != nil {
			return domain.OperationResult{}, classifyAWS("deploying to auto scaling group", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("rolling deploy of %s started on %s", version, binding.Ref),
			Details: map[string]string{
				"version":    version,
				"strategy":   strategy,
				"refresh_id": aws.ToString(out.InstanceRefreshId),
			},
		}, nil

	case "ecs":
		input := &ecs.UpdateServiceInput{
			Cluster:            aws.String(ecsCluster(binding)),
			Service:            aws.String(binding.Ref),
			TaskDefinition:     aws.String(version),
			ForceNewDeployment: true,
		}
		if _, err := a.ecs.UpdateService(ctx, input, ecsRegion(binding.Region)); err != nil {
			return domain.OperationResult{}, classifyAWS("deploying ecs service", err)
		}
		return domain.OperationResult{
			Success: true,
			Message: fmt.Sprintf("deploy of %s started on %s", version, binding.Ref),
			Details: map[string]string{"version": version, "strategy": strategy},
		}, nil

	default:
		return domain.OperationResult{}, unsupported(binding.Kind, "deploy")
	}
}

func (a *AWSAdapter) GetLogs(ctx context.Context, binding domain.ResourceBinding, window domain.LogWindow) (domain.LogBatch, error) {
	limit := window.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogEvents {
		limit = maxLogEvents
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(window.Group),
	}
	if !window.Since.IsZero() {
		input.StartTime = aws.Int64(window.Since.UnixMilli())
	}
	if !window.Until.IsZero() {
		input.EndTime = aws.Int64(window.Until.UnixMilli())
	}

	// Severity is matched against message text after the fetch, so the fetch
	// keeps paging until enough lines survive the filter or the scan budget
	// is spent.
	var events []domain.LogEvent
	truncated := false
	scanned := 0

	for {
		out, err := a.logs.FilterLogEvents(ctx, input, logsRegion(binding.Region))
		if err != nil {
			return domain.LogBatch{}, classifyAWS("querying logs", err)
		}

		for _, event := range out.Events {
			scanned++
			message := aws.ToString(event.Message)
			if !matchesFilter(message, window.Filter) {
				continue
			}
			events = append(events, domain.LogEvent{
				Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC(),
				Message:   message,
				Stream:    aws.ToString(event.LogStreamName),
			})
			if len(events) >= int(limit) {
				truncated = true
				break
			}
		}

		if truncated || out.NextToken == nil || scanned >= maxLogEvents {
			truncated = truncated || (out.NextToken != nil && scanned >= maxLogEvents)
			break
		}
		input.NextToken = out.NextToken
	}

	return domain.LogBatch{Events: events, Truncated: truncated}, nil
}

func (a *AWSAdapter) asgStatus(ctx context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	input := &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{binding.Ref},
	}
	out, err := a.asg.DescribeAutoScalingGroups(ctx, input, asgRegion(binding.Region))
	if err != nil {
		return domain.StatusSnapshot{}, classifyAWS("describing auto scaling group", err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return domain.StatusSnapshot{}, fmt.Errorf("%w: auto scaling group %s", apperrors.ErrResourceNotFound, binding.Ref)
	}

	group := out.AutoScalingGroups[0]
	desired := aws.ToInt32(group.DesiredCapacity)

	var healthy int32
	for _, inst := range group.Instances {
		if inst.LifecycleState == astypes.LifecycleStateInService && aws.ToString(inst.HealthStatus) == "Healthy" {
			healthy++
		}
	}
	total := int32(len(group.Instances))

	return domain.StatusSnapshot{
		State:          fleetState(desired, total, healthy),
		InstanceCount:  total,
		HealthyCount:   healthy,
		UnhealthyCount: total - healthy,
		LastUpdated:    time.Now().UTC(),
		Metadata: map[string]string{
			"desired_capacity": strconv.Itoa(int(desired)),
			"min_size":         strconv.Itoa(int(aws.ToInt32(group.MinSize))),
			"max_size":         strconv.Itoa(int(aws.ToInt32(group.MaxSize))),
		},
	}, nil
}

func (a *AWSAdapter) ecsStatus(ctx context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	input := &ecs.DescribeServicesInput{
		Cluster:  aws.String(ecsCluster(binding)),
		Services: []string{binding.Ref},
	}
	out, err := a.ecs.DescribeServices(ctx, input, ecsRegion(binding.Region))
	if err != nil {
		return domain.StatusSnapshot{}, classifyAWS("describing ecs service", err)
	}
	if len(out.Services) == 0 {
		return domain.StatusSnapshot{}, fmt.Errorf("%w: ecs service %s", apperrors.ErrResourceNotFound, binding.Ref)
	}

	svc := out.Services[0]
	running := svc.RunningCount
	desired := svc.DesiredCount

	return domain.StatusSnapshot{
		State:          fleetState(desired, running+svc.PendingCount, running),
		InstanceCount:  running + svc.PendingCount,
		HealthyCount:   running,
		UnhealthyCount: svc.PendingCount,
		LastUpdated:    time.Now().UTC(),
		Metadata: map[string]string{
			"desired_capacity": strconv.Itoa(int(desired)),
			"cluster":          ecsCluster(binding),
			"status":           aws.ToString(svc.Status),
		},
	}, nil
}

func (a *AWSAdapter) ec2Status(ctx context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	input := &ec2.DescribeInstancesInput{InstanceIds: []string{binding.Ref}}
	out, err := a.ec2.DescribeInstances(ctx, input, ec2Region(binding.Region))
	if err != nil {
		return domain.StatusSnapshot{}, classifyAWS("describing instance", err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			state := instanceState(inst.State)
			healthy := int32(0)
			if state == domain.StateRunning {
				healthy = 1
			}
			return domain.StatusSnapshot{
				State:          state,
				InstanceCount:  1,
				HealthyCount:   healthy,
				UnhealthyCount: 1 - healthy,
				LastUpdated:    time.Now().UTC(),
				Metadata:       map[string]string{"instance_id": aws.ToString(inst.InstanceId)},
			}, nil
		}
	}
	return domain.StatusSnapshot{}, fmt.Errorf("%w: instance %s", apperrors.ErrResourceNotFound, binding.Ref)
}

// fleetState classifies a replicated resource by how many members are healthy
// against the desired count.
func fleetState(desired, total, healthy int32) domain.ServiceState {
	switch {
	case desired == 0:
		return domain.StateStopped
	case healthy >= desired:
		return domain.StateRunning
	case healthy > 0:
		return domain.StateDegraded
	default:
		return domain.StateStarting
	}
}

func instanceState(state *ec2types.InstanceState) domain.ServiceState {
	if state == nil {
		return domain.StateUnknown
	}
	switch state.Name {
	case ec2types.InstanceStateNameRunning:
		return domain.StateRunning
	case ec2types.InstanceStateNamePending:
		return domain.StateStarting
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return domain.StateStopping
	case ec2types.InstanceStateNameStopped:
		return domain.StateStopped
	case ec2types.InstanceStateNameTerminated:
		return domain.StateFailed
	default:
		return domain.StateUnknown
	}
}

func matchesFilter(message, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToUpper(message), strings.ToUpper(filter))
}

func ecsCluster(binding domain.ResourceBinding) string {
	if cluster := binding.Attributes["cluster"]; cluster != "" {
		return cluster
	}
	return "default"
}

func asgRegion(region string) func(*autoscaling.Options) {
	return func(o *autoscaling.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

func ecsRegion(region string) func(*ecs.Options) {
	return func(o *ecs.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

func ec2Region(region string) func(*ec2.Options) {
	return func(o *ec2.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

func logsRegion(region string) func(*cloudwatchlogs.Options) {
	return func(o *cloudwatchlogs.Options) {
		if region != "" {
			o.Region = region
		}
	}
}

var _ domain.ProviderAdapter = (*AWSAdapter)(nil)
