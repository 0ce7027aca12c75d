package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/contacts"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/courses"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/issues"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/gin-gonic/gin"
)

const (
	opHTTPRegisterUser  = "http.register_user"
	opHTTPSetVisibility = "http.set_visibility"
	opHTTPSetBlocked    = "http.set_blocked"
	opHTTPPutStudent    = "http.put_student"
	opHTTPListStudents  = "http.list_students"
	opHTTPCourse        = "http.course"
	opHTTPCreateIssue   = "http.create_issue"
	opHTTPIssues        = "http.issues"
	opHTTPContacts      = "http.contacts"
)

type visibilityPayload struct {
	Visible *bool `json:"visible"`
}

type blockedPayload struct {
	Blocked *bool `json:"blocked"`
}

func (h *httpHandler) handleRegisterUser(c *gin.Context) {
	if err := requireRole(identityFrom(c), opHTTPRegisterUser, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	var user users.User
	if err := c.ShouldBindJSON(&user); err != nil {
		h.respondInvalidBody(c, opHTTPRegisterUser, err)
		return
	}
	created, err := h.users.Register(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "user registered", created)
}

func (h *httpHandler) handleGetMe(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), identityFrom(c).UserID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", user)
}

func (h *httpHandler) handleSetVisibility(c *gin.Context) {
	identity := identityFrom(c)
	userID := c.Param("id")
	if identity.UserID != userID && identity.Role != users.RoleAdmin {
		h.respondError(c, apperrors.Forbidden(opHTTPSetVisibility, "not_owner", "you can only change your own visibility"), nil)
		return
	}
	var payload visibilityPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalidBody(c, opHTTPSetVisibility, err)
		return
	}
	if payload.Visible == nil {
		h.respondError(c, apperrors.Validation(opHTTPSetVisibility, "missing_visible", "visible is required"), nil)
		return
	}
	user, err := h.users.SetVisibility(c.Request.Context(), userID, *payload.Visible)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "visibility updated", user)
}

func (h *httpHandler) handleSetBlocked(c *gin.Context) {
	if err := requireRole(identityFrom(c), opHTTPSetBlocked, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	var payload blockedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalidBody(c, opHTTPSetBlocked, err)
		return
	}
	if payload.Blocked == nil {
		h.respondError(c, apperrors.Validation(opHTTPSetBlocked, "missing_blocked", "blocked is required"), nil)
		return
	}
	user, err := h.users.SetBlocked(c.Request.Context(), c.Param("id"), *payload.Blocked)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "account updated", user)
}

func (h *httpHandler) handlePutStudent(c *gin.Context) {
	identity := identityFrom(c)
	if err := requireRole(identity, opHTTPPutStudent, users.RoleInstitute, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	var student users.Student
	if err := c.ShouldBindJSON(&student); err != nil {
		h.respondInvalidBody(c, opHTTPPutStudent, err)
		return
	}
	stored, err := h.users.PutStudent(c.Request.Context(), identity, student)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "student saved", stored)
}

func (h *httpHandler) handleListStudents(c *gin.Context) {
	identity := identityFrom(c)
	if err := requireRole(identity, opHTTPListStudents, users.RoleInstitute, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	instituteID := identity.UserID
	if identity.Role == users.RoleAdmin {
		instituteID = c.Query("instituteId")
	}
	students, err := h.users.ListStudentsByInstitute(c.Request.Context(), instituteID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", students)
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	respondOK(c, http.StatusOK, "", h.courses.List(c.Request.Context()))
}

func (h *httpHandler) handleListInstituteCourses(c *gin.Context) {
	list, err := h.courses.ListByInstitute(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", list)
}

func (h *httpHandler) handleCreateCourse(c *gin.Context) {
	var request courses.CourseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPCourse, err)
		return
	}
	course, err := h.courses.Create(c.Request.Context(), identityFrom(c), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "course created", course)
}

func (h *httpHandler) handleUpdateCourse(c *gin.Context) {
	var request courses.CourseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPCourse, err)
		return
	}
	course, err := h.courses.Update(c.Request.Context(), identityFrom(c), c.Param("id"), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "course updated", course)
}

func (h *httpHandler) handleDeleteCourse(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "course deleted", nil)
}

func (h *httpHandler) handleCreateIssue(c *gin.Context) {
	var request issues.IssueRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPCreateIssue, err)
		return
	}
	issue, err := h.issues.Create(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "issue submitted", issue)
}

func (h *httpHandler) handleListIssues(c *gin.Context) {
	if err := requireRole(identityFrom(c), opHTTPIssues, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusOK, "", h.issues.List(c.Request.Context(), issues.Status(c.Query("status"))))
}

func (h *httpHandler) handleResolveIssue(c *gin.Context) {
	if err := requireRole(identityFrom(c), opHTTPIssues, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	issue, err := h.issues.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		var partial any
		if issue.IssueID != "" {
			partial = issue
		}
		h.respondError(c, err, partial)
		return
	}
	respondOK(c, http.StatusOK, "issue resolved", issue)
}

func (h *httpHandler) handleRecordContact(c *gin.Context) {
	var request contacts.ContactRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, opHTTPContacts, err)
		return
	}
	contact, err := h.contacts.Record(c.Request.Context(), identityFrom(c), request)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	respondOK(c, http.StatusCreated, "contact recorded", contact)
}

func (h *httpHandler) handleListContacts(c *gin.Context) {
	identity := identityFrom(c)
	if err := requireRole(identity, opHTTPContacts, users.RoleRecruiter, users.RoleAdmin); err != nil {
		h.respondError(c, err, nil)
		return
	}
	recruiterID := identity.UserID
	if identity.Role == users.RoleAdmin {
		recruiterID = c.Query("recruiterId")
	}
	respondOK(c, http.StatusOK, "", h.contacts.ListByRecruiter(c.Request.Context(), recruiterID))
}
