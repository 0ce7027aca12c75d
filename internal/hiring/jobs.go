package hiring

import (
	"context"
	"sort"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"go.uber.org/zap"
)

const (
	opCreateJob = "hiring.create_job"
	opGetJob    = "hiring.get_job"
	opListJobs  = "hiring.list_jobs"
)

// JobRequest carries the fields of a new posting.
type JobRequest struct {
	Title       string   `json:"title"`
	CompanyName string   `json:"companyName"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Skills      []string `json:"skills"`
}

// CreateJob stores a posting owned by the calling recruiter.
func (s *Service) CreateJob(ctx context.Context, actor users.Identity, request JobRequest) (Job, error) {
	if actor.Role != users.RoleRecruiter {
		return Job{}, apperrors.Forbidden(opCreateJob, "not_recruiter", "only recruiters can post jobs")
	}
	job := Job{
		RecruiterID: actor.UserID,
		Title:       normalize(request.Title),
		CompanyName: normalize(request.CompanyName),
		Description: normalize(request.Description),
		Location:    normalize(request.Location),
		Skills:      request.Skills,
	}
	if job.Title == "" || job.CompanyName == "" {
		return Job{}, apperrors.Validation(opCreateJob, "missing_fields", "title and companyName are required")
	}
	jobID, err := s.idProvider.NewID()
	if err != nil {
		return Job{}, apperrors.TransientStore(opCreateJob, "id_generation_failed", err)
	}
	job.JobID = jobID
	job.CreatedAtSeconds = s.now().UTC().Unix()

	item, err := docstore.Marshal(job)
	if err != nil {
		return Job{}, apperrors.TransientStore(opCreateJob, "marshal_failed", err)
	}
	if err := s.store.CreateItem(ctx, s.tables.Jobs, item); err != nil {
		s.logError(opCreateJob, "put_failed", err, zap.String("job_id", job.JobID))
		return Job{}, apperrors.FromStore(opCreateJob, err)
	}
	return job, nil
}

// GetJob loads one posting.
func (s *Service) GetJob(ctx context.Context, jobID string) (Job, error) {
	jobID = normalize(jobID)
	if jobID == "" {
		return Job{}, apperrors.Validation(opGetJob, "missing_job", "job id is required")
	}
	item, err := s.store.GetItem(ctx, s.tables.Jobs, jobID)
	if err != nil {
		return Job{}, apperrors.FromStore(opGetJob, err)
	}
	var job Job
	if err := docstore.Unmarshal(item, &job); err != nil {
		return Job{}, apperrors.TransientStore(opGetJob, "decode_failed", err)
	}
	return job, nil
}

// ListJobs returns postings, newest first. An empty recruiterID lists every posting.
func (s *Service) ListJobs(ctx context.Context, recruiterID string) ([]Job, error) {
	var filter docstore.Filter
	if recruiterID = normalize(recruiterID); recruiterID != "" {
		filter = docstore.Filter{docstore.Where("recruiterId", recruiterID)}
	}
	items, err := s.store.ScanItems(ctx, s.tables.Jobs, filter)
	if err != nil {
		return nil, apperrors.FromStore(opListJobs, err)
	}
	jobs, err := docstore.UnmarshalAll[Job](items)
	if err != nil {
		return nil, apperrors.TransientStore(opListJobs, "decode_failed", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAtSeconds > jobs[j].CreatedAtSeconds
	})
	return jobs, nil
}
