package unzip

import (
	"github.com/meigma/unzip/internal/batch"
	"github.com/meigma/unzip/internal/ziptype"
)

// Re-export types from internal packages for the public API.
type (
	// Entry describes a single archive member.
	Entry = ziptype.Entry

	// Method is a compression method code.
	Method = ziptype.Method

	// Outcome is the result of handling one entry.
	Outcome = ziptype.Outcome

	// OutcomeKind classifies how an entry was handled.
	OutcomeKind = ziptype.OutcomeKind

	// ProgressEvent represents a progress update.
	ProgressEvent = ziptype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = ziptype.ProgressStage

	// ProgressFunc receives progress updates.
	// Implementations must be safe for concurrent calls.
	ProgressFunc = ziptype.ProgressFunc

	// Target receives extracted entries. See WithTarget.
	Target = batch.Target

	// Committer is a writer that can be committed or discarded.
	Committer = batch.Committer

	// Discard is a Target that drops all content. Combined with WithTarget
	// it verifies a stream without writing anything.
	Discard = batch.Discard
)

// Re-export compression method constants.
const (
	MethodStored    = ziptype.MethodStored
	MethodShrunk    = ziptype.MethodShrunk
	MethodImploded  = ziptype.MethodImploded
	MethodDeflated  = ziptype.MethodDeflated
	MethodDeflate64 = ziptype.MethodDeflate64
	MethodBzip2     = ziptype.MethodBzip2
	MethodLZMA      = ziptype.MethodLZMA
	MethodZstd      = ziptype.MethodZstd
	MethodXZ        = ziptype.MethodXZ
	MethodPPMd      = ziptype.MethodPPMd
	MethodAES       = ziptype.MethodAES
)

// Re-export outcome kinds.
const (
	OutcomeWritten = ziptype.OutcomeWritten
	OutcomeSkipped = ziptype.OutcomeSkipped
	OutcomeFailed  = ziptype.OutcomeFailed
)

// Re-export skip reasons.
const (
	ReasonEncrypted = ziptype.ReasonEncrypted
	ReasonExists    = ziptype.ReasonExists
	ReasonCanceled  = ziptype.ReasonCanceled
)

// Re-export progress stage constants.
const (
	StageLocating         = ziptype.StageLocating
	StageReadingDirectory = ziptype.StageReadingDirectory
	StageExtracting       = ziptype.StageExtracting
	StageVerifying        = ziptype.StageVerifying
	StageDone             = ziptype.StageDone
)
