package session

import "fmt"

// Message keys shown to the lecturer
const (
	MsgAttendanceStarted         = "attendance_started"
	MsgAttendanceCode            = "attendance_code_expires"
	MsgStartFailed               = "start_failed"
	MsgFailedStart               = "failed_start_attendance"
	MsgTimeExtended              = "time_extended"
	MsgTimeExtendedDetail        = "time_extended_msg"
	MsgExtensionFailed           = "extension_failed"
	MsgFailedExtend              = "failed_extend_attendance"
	MsgAttendanceCancelled       = "attendance_cancelled"
	MsgAttendanceCancelledDetail = "attendance_cancelled_msg"
	MsgCancellationFailed        = "cancellation_failed"
	MsgFailedCancel              = "failed_cancel_attendance"
	MsgAttendanceMarked          = "attendance_marked"
	MsgAttendanceUnmarked        = "attendance_unmarked"
	MsgStudentMarkedPresent      = "student_marked_present"
	MsgStudentMarkedAbsent       = "student_marked_absent"
	MsgError                     = "error"
	MsgFailedToggle              = "failed_toggle_attendance"
)

// Messages maps message keys to display text
// Keys missing from a catalog fall back to English, then to the key itself.
type Messages map[string]string

var english = Messages{
	MsgAttendanceStarted:         "Attendance started",
	MsgAttendanceCode:            "Code: %s",
	MsgStartFailed:               "Start failed",
	MsgFailedStart:               "Failed to start attendance",
	MsgTimeExtended:              "Time extended",
	MsgTimeExtendedDetail:        "Attendance time has been extended",
	MsgExtensionFailed:           "Extension failed",
	MsgFailedExtend:              "Failed to extend attendance",
	MsgAttendanceCancelled:       "Attendance cancelled",
	MsgAttendanceCancelledDetail: "The attendance session has been cancelled",
	MsgCancellationFailed:        "Cancellation failed",
	MsgFailedCancel:              "Failed to cancel attendance",
	MsgAttendanceMarked:          "Attendance marked",
	MsgAttendanceUnmarked:        "Attendance unmarked",
	MsgStudentMarkedPresent:      "Student marked present",
	MsgStudentMarkedAbsent:       "Student marked absent",
	MsgError:                     "Error",
	MsgFailedToggle:              "Failed to update attendance",
}

// Text resolves key, formatting args into it when given
func (m Messages) Text(key string, args ...any) string {
	text, ok := m[key]
	if !ok {
		text, ok = english[key]
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}
