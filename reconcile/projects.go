package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

// ProjectValidator checks in-progress projects: at least one linked accepted
// quote, estimate vs quote-total agreement, duplicate project codes, and
// whether the linked deal sits in the tenant's expected pipeline/stage.
type ProjectValidator struct{}

func (ProjectValidator) Name() string { return "validate-projects" }

func (ProjectValidator) Validate(vc *ValidationContext) []models.ValidationIssue {
	var issues []models.ValidationIssue

	dealsByProjectCode := map[string][]models.Deal{}
	for _, deal := range vc.Deals {
		code := strings.ToUpper(strings.TrimSpace(deal.ProjectCode))
		if code != "" {
			dealsByProjectCode[code] = append(dealsByProjectCode[code], deal)
		}
	}

	projectsByCode := map[string][]models.Project{}

	for _, project := range vc.Projects {
		code := strings.ToUpper(strings.TrimSpace(project.Code))
		if code != "" {
			projectsByCode[code] = append(projectsByCode[code], project)
		}

		if project.Status != models.ProjectStatusInProgress {
			continue
		}

		linkedTotal := decimal.Zero
		linkedCount := 0
		for _, quoteId := range project.QuoteIds {
			quote, ok := vc.QuoteById[strings.TrimSpace(quoteId)]
			if !ok {
				continue
			}
			if quote.Status != models.QuoteStatusAccepted && quote.Status != models.QuoteStatusInvoiced {
				continue
			}
			linkedCount++
			linkedTotal = linkedTotal.Add(quote.Total)
		}

		if linkedCount == 0 {
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueProjectNoQuotes,
				Severity:    models.IssueSeverityWarning,
				Message:     fmt.Sprintf("In-progress project %q has no linked accepted quote", project.Name),
				SubjectId:   project.Id,
				SubjectType: models.RecordKindProject,
				Metadata: map[string]any{
					"projectCode":     project.Code,
					"projectEstimate": project.Estimate,
				},
			})
		} else if !WithinEpsilon(project.Estimate, linkedTotal) {
			issues = append(issues, models.ValidationIssue{
				Code:          models.IssueEstimateMismatch,
				Severity:      models.IssueSeverityWarning,
				Message:       fmt.Sprintf("Project %q estimate %s does not match linked quote total %s", project.Name, project.Estimate.StringFixed(2), linkedTotal.StringFixed(2)),
				SubjectId:     project.Id,
				SubjectType:   models.RecordKindProject,
				Fixable:       true,
				FixAction:     "update_project_estimate",
				CurrentValue:  project.Estimate.StringFixed(2),
				ExpectedValue: linkedTotal.StringFixed(2),
				Metadata: map[string]any{
					"projectCode":     project.Code,
					"projectEstimate": project.Estimate,
					"quoteTotal":      linkedTotal,
					"delta":           project.Estimate.Sub(linkedTotal),
				},
			})
		}

		issues = append(issues, pipelineIssues(vc, project, dealsByProjectCode[code])...)
	}

	issues = append(issues, duplicateProjectCodeIssues(projectsByCode)...)

	return issues
}

// pipelineIssues flags linked deals outside the tenant's expected
// pipeline/stage. Skipped entirely when the tenant config does not declare
// an expectation.
func pipelineIssues(vc *ValidationContext, project models.Project, linkedDeals []models.Deal) []models.ValidationIssue {
	expectedPipeline := strings.TrimSpace(vc.Config.ExpectedPipelineId)
	if expectedPipeline == "" {
		return nil
	}

	allowedStages := map[string]bool{}
	for _, stage := range vc.Config.ExpectedStageIds {
		allowedStages[strings.TrimSpace(stage)] = true
	}

	var issues []models.ValidationIssue
	for _, deal := range linkedDeals {
		wrongPipeline := deal.PipelineId != expectedPipeline
		wrongStage := len(allowedStages) > 0 && !allowedStages[deal.StageId]
		if !wrongPipeline && !wrongStage {
			continue
		}
		issues = append(issues, models.ValidationIssue{
			Code:          models.IssueInvalidPipeline,
			Severity:      models.IssueSeverityWarning,
			Message:       fmt.Sprintf("Deal %q for project %s is not in the expected pipeline/stage", deal.Title, project.Code),
			SubjectId:     deal.Id,
			SubjectType:   models.RecordKindDeal,
			CurrentValue:  deal.PipelineId,
			ExpectedValue: expectedPipeline,
			Metadata: map[string]any{
				"projectId":   project.Id,
				"projectCode": project.Code,
				"pipelineId":  deal.PipelineId,
				"stageId":     deal.StageId,
			},
		})
	}
	return issues
}

// duplicateProjectCodeIssues emits one issue per code shared by more than
// one project.
func duplicateProjectCodeIssues(projectsByCode map[string][]models.Project) []models.ValidationIssue {
	codes := make([]string, 0, len(projectsByCode))
	for code, group := range projectsByCode {
		if len(group) > 1 {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	var issues []models.ValidationIssue
	for _, code := range codes {
		group := projectsByCode[code]
		projectIds := make([]string, 0, len(group))
		for _, p := range group {
			projectIds = append(projectIds, p.Id)
		}
		issues = append(issues, models.ValidationIssue{
			Code:         models.IssueDuplicateProjectCode,
			Severity:     models.IssueSeverityWarning,
			Message:      fmt.Sprintf("%d projects share the code %s", len(group), code),
			SubjectId:    group[0].Id,
			SubjectType:  models.RecordKindProject,
			CurrentValue: code,
			Metadata: map[string]any{
				"projectCode": code,
				"count":       len(group),
				"projectIds":  projectIds,
			},
		})
	}
	return issues
}
