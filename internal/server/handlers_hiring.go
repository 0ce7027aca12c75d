package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/hiring"
	"github.com/gin-gonic/gin"
)

const (
	opHTTPApply         = "http.apply"
	opHTTPApplyStudents = "http.apply_students"
	opHTTPDecide        = "http.decide"
	opHTTPCreateJob     = "http.create_job"
)

type applyStudentsPayload struct {
	StudentIDs []string `json:"studentIds"`
}

type decisionPayload struct {
	Status string `json:"status"`
}

func (h *httpHandler) handleCreateJob(c *gin.Context) {
	var request hiring.JobRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPCreateJob, err)
		return
	}
	job, err := h.hiring.CreateJob(c.Request.Context(), identityFrom(c), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "job created", job)
}

func (h *httpHandler) handleListJobs(c *gin.Context) {
	jobs, err := h.hiring.ListJobs(c.Request.Context(), c.Query("recruiterId"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", jobs)
}

func (h *httpHandler) handleGetJob(c *gin.Context) {
	job, err := h.hiring.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", job)
}

// handleApply fills the posting details from the stored job when the client
// only names the job in the path.
func (h *httpHandler) handleApply(c *gin.Context) {
	var request hiring.ApplyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidBody(c, opHTTPApply, err)
			return
		}
	}
	request.JobID = c.Param("id")
	if request.RecruiterID == "" || request.JobTitle == "" || request.CompanyName == "" {
		job, err := h.hiring.GetJob(c.Request.Context(), request.JobID)
		if err != nil {
			h.respondError(c, err, nil)
			return
		}
		if request.RecruiterID == "" {
			request.RecruiterID = job.RecruiterID
		}
		if request.JobTitle == "" {
			request.JobTitle = job.Title
		}
		if request.CompanyName == "" {
			request.CompanyName = job.CompanyName
		}
	}

	application, err := h.hiring.ApplyForJob(c.Request.Context(), identityFrom(c), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "application submitted", application)
}

func (h *httpHandler) handleApplyStudents(c *gin.Context) {
	var payload applyStudentsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalidBody(c, opHTTPApplyStudents, err)
		return
	}
	result, err := h.hiring.ApplyStudentsToJob(c.Request.Context(), identityFrom(c), c.Param("id"), payload.StudentIDs)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	message := fmt.Sprintf("%d applied, %d failed", len(result.Applications), len(result.Failures))
	respondOK(c, http.StatusOK, message, result)
}

func (h *httpHandler) handleListMyApplications(c *gin.Context) {
	applications, err := h.hiring.ListApplicationsForCandidate(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", applications)
}

func (h *httpHandler) handleDecide(c *gin.Context) {
	var payload decisionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalidBody(c, opHTTPDecide, err)
		return
	}
	decision, ok := hiring.ParseDecision(payload.Status)
	if !ok {
		h.respondError(c, apperrors.Validation(opHTTPDecide, "invalid_status", "status must be Hired or Rejected"), nil)
		return
	}
	record, err := h.hiring.Decide(c.Request.Context(), identityFrom(c), c.Param("id"), decision)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "candidate "+strings.ToLower(string(decision)), record)
}

func (h *httpHandler) handleListCandidates(c *gin.Context) {
	filter := hiring.CandidateFilter{
		Search: c.Query("search"),
		JobID:  c.Query("jobId"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, ok := parseStatusFilter(raw)
		if !ok {
			h.respondError(c, apperrors.Validation("http.list_candidates", "invalid_status", "status must be Applied, Hired or Rejected"), nil)
			return
		}
		filter.Status = status
	}
	applications, err := h.hiring.ListCandidates(c.Request.Context(), identityFrom(c), filter)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", applications)
}

func (h *httpHandler) handleRemoveCandidate(c *gin.Context) {
	if err := h.hiring.RemoveCandidate(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "candidate removed", nil)
}

func (h *httpHandler) handleListHiringRecords(c *gin.Context) {
	records, err := h.hiring.ListHiringRecords(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", records)
}

func parseStatusFilter(raw string) (hiring.Status, bool) {
	if strings.EqualFold(raw, string(hiring.StatusApplied)) {
		return hiring.StatusApplied, true
	}
	return hiring.ParseDecision(raw)
}
