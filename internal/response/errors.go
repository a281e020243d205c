package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrExamClosed           ErrCode = "EXAM_CLOSED"
	ErrSessionActive        ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionNotStarted    ErrCode = "SESSION_NOT_STARTED"
	ErrAlreadySubmitted     ErrCode = "ALREADY_SUBMITTED"
	ErrUnknownQuestion      ErrCode = "UNKNOWN_QUESTION"
	ErrSubmissionIncomplete ErrCode = "SUBMISSION_INCOMPLETE"
	ErrAnswerValidation     ErrCode = "ANSWER_VALIDATION_FAILED"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrFeedbackNotFound   ErrCode = "FEEDBACK_NOT_FOUND"
	ErrSubmissionNotFound ErrCode = "SUBMISSION_NOT_FOUND"
	ErrPersistence        ErrCode = "PERSISTENCE_FAILED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrExamClosed:
		return "Ujian ini sudah ditutup atau melewati batas waktu."
	case ErrSessionActive:
		return "Anda sudah memiliki sesi ujian aktif di perangkat lain."
	case ErrSessionNotStarted:
		return "Sesi ujian belum dimulai."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrSubmissionIncomplete:
		return "Masih ada soal yang belum dijawab."
	case ErrAnswerValidation:
		return "Jawaban kode tidak memenuhi struktur yang diwajibkan."

	// ─── Grading ───────────────────────────────────────────────────────
	case ErrFeedbackNotFound:
		return "Hasil penilaian belum tersedia."
	case ErrSubmissionNotFound:
		return "Jawaban ujian tidak ditemukan."
	case ErrPersistence:
		return "Gagal menyimpan jawaban. Silakan coba kumpulkan lagi."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
