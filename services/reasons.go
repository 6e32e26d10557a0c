package services

import (
	"strings"

	"faltas_go/models"
)

// leaveReasons translates the reason strings found on leaves into absence reasons.
var leaveReasons = map[string]models.AbsenceReason{
	"licença médica":               models.ReasonSickLeave,
	"sick leave":                   models.ReasonSickLeave,
	"licença pessoal":              models.ReasonPersonalLeave,
	"personal leave":               models.ReasonPersonalLeave,
	"desenvolvimento profissional": models.ReasonProfessionalDevelopment,
	"professional development":     models.ReasonProfessionalDevelopment,
	"conferência":                  models.ReasonConference,
	"conference":                   models.ReasonConference,
	"emergência familiar":          models.ReasonFamilyEmergency,
	"family emergency":             models.ReasonFamilyEmergency,
	"demissão":                     models.ReasonTermination,
	"demissao":                     models.ReasonTermination,
	"outro":                        models.ReasonOther,
	"other":                        models.ReasonOther,
}

// MapLeaveReason returns the absence reason for a leave reason, or Other.
func MapLeaveReason(reason string) models.AbsenceReason {
	if mapped, ok := leaveReasons[strings.ToLower(strings.TrimSpace(reason))]; ok {
		return mapped
	}
	return models.ReasonOther
}
