package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/insightforge/internal/api/dto"
	"github.com/hugh/insightforge/internal/api/respond"
	"github.com/hugh/insightforge/internal/authz"
	"github.com/hugh/insightforge/internal/database/models"
)

func benchOrganization() *models.Organization {
	desc := "Analytics for the growth team"
	org := models.NewOrganization("Growth Analytics", "growth-analytics")
	org.ID = uuid.New()
	org.Description = &desc
	org.Settings = map[string]any{"theme": "dark", "timezone": "UTC"}
	org.CurrentDatasetCount = 4
	org.CurrentStorageMB = 37
	org.CurrentQueryCount = 512
	org.CreatedAt = time.Now()
	return org
}

func benchUser() *models.User {
	hash := "$2a$12$abcdefghijklmnopqrstuuABCDEFGHIJKLMNOPQRSTUVWXYZ01234"
	now := time.Now()
	u := &models.User{
		Email:        "analyst@example.com",
		PasswordHash: &hash,
		FullName:     "Ada Analyst",
		IsActive:     true,
		IsVerified:   true,
		LastLoginAt:  &now,
	}
	u.ID = uuid.New()
	u.CreatedAt = now
	return u
}

// BenchmarkJSONSerialization benchmarks JSON encoding of common response types
func BenchmarkJSONSerialization(b *testing.B) {
	b.Run("ErrorResponse", func(b *testing.B) {
		resp := dto.ErrorResponse{
			Error: "Usage limit exceeded for datasets",
			Type:  "usage_limit_exceeded",
			Details: map[string]any{
				"limit_type": "datasets",
				"current":    10,
				"maximum":    10,
			},
		}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = json.Marshal(resp)
		}
	})

	b.Run("AuthResponse", func(b *testing.B) {
		org := dto.NewOrganizationDTO(benchOrganization(), "owner")
		resp := dto.AuthResponse{
			AccessToken:  "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiIxIn0.sig",
			RefreshToken: "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiIyIn0.sig",
			TokenType:    "bearer",
			ExpiresIn:    1800,
			User:         dto.NewUserDTO(benchUser()),
			Organization: &org,
		}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = json.Marshal(resp)
		}
	})

	b.Run("MemberList", func(b *testing.B) {
		members := make([]dto.MemberDTO, 50)
		for i := range members {
			members[i] = dto.MemberDTO{
				UserID:   uuid.New().String(),
				Email:    "member@example.com",
				FullName: "Member",
				Role:     string(authz.RoleAnalyst),
				IsActive: true,
				JoinedAt: time.Now(),
			}
		}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = json.Marshal(members)
		}
	})
}

// BenchmarkRequestParsing benchmarks decoding of request bodies
func BenchmarkRequestParsing(b *testing.B) {
	b.Run("RegisterRequest", func(b *testing.B) {
		body := []byte(`{"email":"new@example.com","password":"Securepassword123!","full_name":"New User","org_name":"New Org"}`)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var req dto.RegisterRequest
			_ = json.NewDecoder(bytes.NewReader(body)).Decode(&req)
		}
	})

	b.Run("UsageRequest", func(b *testing.B) {
		body := []byte(`{"datasets":1,"storage_mb":25,"queries":10}`)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			var req dto.UsageRequest
			_ = json.NewDecoder(bytes.NewReader(body)).Decode(&req)
		}
	})
}

// BenchmarkRequestValidation benchmarks request validation
func BenchmarkRequestValidation(b *testing.B) {
	b.Run("ValidRegister", func(b *testing.B) {
		req := dto.RegisterRequest{
			Email:    "new@example.com",
			Password: "Securepassword123!",
			FullName: "New User",
		}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = req.Validate()
		}
	})

	b.Run("InvalidRegister", func(b *testing.B) {
		req := dto.RegisterRequest{Email: "not-an-email", Password: "short"}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = req.Validate()
		}
	})

	b.Run("CreateOrganization", func(b *testing.B) {
		req := dto.CreateOrganizationRequest{Name: "Growth Analytics", Slug: "growth-analytics"}
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = req.Validate()
		}
	})
}

// BenchmarkModelConversion benchmarks model to DTO conversion
func BenchmarkModelConversion(b *testing.B) {
	b.Run("Organization", func(b *testing.B) {
		org := benchOrganization()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = dto.NewOrganizationDTO(org, "admin")
		}
	})

	b.Run("User", func(b *testing.B) {
		user := benchUser()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = dto.NewUserDTO(user)
		}
	})
}

// BenchmarkWriteJSON benchmarks the full response write path
func BenchmarkWriteJSON(b *testing.B) {
	org := dto.NewOrganizationDTO(benchOrganization(), "owner")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rr := httptest.NewRecorder()
		respond.JSON(rr, 200, org)
	}
}

// BenchmarkAuthorize benchmarks the role check run on every org request
func BenchmarkAuthorize(b *testing.B) {
	grant := &authz.Grant{Role: authz.RoleAnalyst, Active: true}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = authz.Authorize(grant, authz.ActionUploadData)
		}
	})
}
