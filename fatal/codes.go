// Copyright 2024 The Armored Witness authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fatal

import (
	"errors"
	"fmt"
)

// Code is the numeric error code reported to the supervising SoC when a boot
// stage halts. Codes are part of the external status interface and must not
// be renumbered.
type Code uint32

// Success is never reported as a fatal code.
const Success Code = 0

// Persistent vault
const (
	VaultLockViolation Code = iota + 0x00010001
	VaultStickyWriteViolation
	VaultInvalidSlot
	VaultInvalidLayout
)

// Firmware handoff table
const (
	FmcHandoffInvalidParam Code = iota + 0x00020001
	FmcHandoffFhtNotLoaded
	FmcHandoffNotReadyForRt
	RuntimeHandoffFhtNotLoaded
	RomHandoffFhtInvalid
	HandoffInvalidLayout
)

// Bounded control transfer
const (
	AddressNotInICCM Code = iota + 0x00030001
	AddressMisaligned
	TransferReturned
)

// Image verification
const (
	ImageVerifyManifestMarkerMismatch Code = iota + 0x00040001
	ImageVerifyManifestSizeMismatch
	ImageVerifyVendorPubKeyDigestInvalid
	ImageVerifyVendorPubKeyDigestMismatch
	ImageVerifyVendorPubKeyIndexOutOfBounds
	ImageVerifyVendorPubKeyRevoked
	ImageVerifyVendorPubKeyIndexMismatch
	ImageVerifyOwnerPubKeyDigestMismatch
	ImageVerifyVendorSignatureInvalid
	ImageVerifyOwnerSignatureInvalid
	ImageVerifyTOCInvalid
	ImageVerifyFmcDigestMismatch
	ImageVerifyRuntimeDigestMismatch
	ImageVerifyFmcSVNLessThanMin
	ImageVerifyRuntimeSVNLessThanMin
	ImageVerifyEntryPointInvalid
	ImageVerifyLoadAddressInvalid
	ImageVerifyFmcDigestMismatchWarm
	ImageVerifyDigestFailure
	ImageVerifyVersionInvalid
	ImageVerifyTransparencyFailure
	ImageVerifyLoadFailure
	ImageVerifyMockInProduction
)

// Identity derivation and runtime services
const (
	RuntimeInsufficientMemory Code = iota + 0x00050001
	RuntimeUnimplementedCommand
	DiceDerivationFailure
	DiceCertificateFailure
	KeyVaultInvalidSlot
	KeyVaultEmptySlot
	RollbackFailure
	FuseReadFailure
)

// Global traps
const (
	GlobalException Code = iota + 0x00060001
	GlobalNMI
	GlobalWDTExpired
	GlobalPanic
	GlobalUnknown
)

var codeNames = map[Code]string{
	VaultLockViolation:        "VAULT_LOCK_VIOLATION",
	VaultStickyWriteViolation: "VAULT_STICKY_WRITE_VIOLATION",
	VaultInvalidSlot:          "VAULT_INVALID_SLOT",
	VaultInvalidLayout:        "VAULT_INVALID_LAYOUT",

	FmcHandoffInvalidParam:     "FMC_HANDOFF_INVALID_PARAM",
	FmcHandoffFhtNotLoaded:     "FMC_HANDOFF_FHT_NOT_LOADED",
	FmcHandoffNotReadyForRt:    "FMC_HANDOFF_NOT_READY_FOR_RT",
	RuntimeHandoffFhtNotLoaded: "RUNTIME_HANDOFF_FHT_NOT_LOADED",
	RomHandoffFhtInvalid:       "ROM_HANDOFF_FHT_INVALID",
	HandoffInvalidLayout:       "HANDOFF_INVALID_LAYOUT",

	AddressNotInICCM:  "ADDRESS_NOT_IN_ICCM",
	AddressMisaligned: "ADDRESS_MISALIGNED",
	TransferReturned:  "TRANSFER_RETURNED",

	ImageVerifyManifestMarkerMismatch:       "IMAGE_VERIFY_MANIFEST_MARKER_MISMATCH",
	ImageVerifyManifestSizeMismatch:         "IMAGE_VERIFY_MANIFEST_SIZE_MISMATCH",
	ImageVerifyVendorPubKeyDigestInvalid:    "IMAGE_VERIFY_VENDOR_PUB_KEY_DIGEST_INVALID",
	ImageVerifyVendorPubKeyDigestMismatch:   "IMAGE_VERIFY_VENDOR_PUB_KEY_DIGEST_MISMATCH",
	ImageVerifyVendorPubKeyIndexOutOfBounds: "IMAGE_VERIFY_VENDOR_PUB_KEY_INDEX_OUT_OF_BOUNDS",
	ImageVerifyVendorPubKeyRevoked:          "IMAGE_VERIFY_VENDOR_PUB_KEY_REVOKED",
	ImageVerifyVendorPubKeyIndexMismatch:    "IMAGE_VERIFY_VENDOR_PUB_KEY_INDEX_MISMATCH",
	ImageVerifyOwnerPubKeyDigestMismatch:    "IMAGE_VERIFY_OWNER_PUB_KEY_DIGEST_MISMATCH",
	ImageVerifyVendorSignatureInvalid:       "IMAGE_VERIFY_VENDOR_SIGNATURE_INVALID",
	ImageVerifyOwnerSignatureInvalid:        "IMAGE_VERIFY_OWNER_SIGNATURE_INVALID",
	ImageVerifyTOCInvalid:                   "IMAGE_VERIFY_TOC_INVALID",
	ImageVerifyFmcDigestMismatch:            "IMAGE_VERIFY_FMC_DIGEST_MISMATCH",
	ImageVerifyRuntimeDigestMismatch:        "IMAGE_VERIFY_RUNTIME_DIGEST_MISMATCH",
	ImageVerifyFmcSVNLessThanMin:            "IMAGE_VERIFY_FMC_SVN_LESS_THAN_MIN",
	ImageVerifyRuntimeSVNLessThanMin:        "IMAGE_VERIFY_RUNTIME_SVN_LESS_THAN_MIN",
	ImageVerifyEntryPointInvalid:            "IMAGE_VERIFY_ENTRY_POINT_INVALID",
	ImageVerifyLoadAddressInvalid:           "IMAGE_VERIFY_LOAD_ADDRESS_INVALID",
	ImageVerifyFmcDigestMismatchWarm:        "IMAGE_VERIFY_FMC_DIGEST_MISMATCH_WARM",
	ImageVerifyDigestFailure:                "IMAGE_VERIFY_DIGEST_FAILURE",
	ImageVerifyVersionInvalid:               "IMAGE_VERIFY_VERSION_INVALID",
	ImageVerifyTransparencyFailure:          "IMAGE_VERIFY_TRANSPARENCY_FAILURE",
	ImageVerifyLoadFailure:                  "IMAGE_VERIFY_LOAD_FAILURE",
	ImageVerifyMockInProduction:             "IMAGE_VERIFY_MOCK_IN_PRODUCTION",

	RuntimeInsufficientMemory:   "RUNTIME_INSUFFICIENT_MEMORY",
	RuntimeUnimplementedCommand: "RUNTIME_UNIMPLEMENTED_COMMAND",
	DiceDerivationFailure:       "DICE_DERIVATION_FAILURE",
	DiceCertificateFailure:      "DICE_CERTIFICATE_FAILURE",
	KeyVaultInvalidSlot:         "KEY_VAULT_INVALID_SLOT",
	KeyVaultEmptySlot:           "KEY_VAULT_EMPTY_SLOT",
	RollbackFailure:             "ROLLBACK_FAILURE",
	FuseReadFailure:             "FUSE_READ_FAILURE",

	GlobalException:  "GLOBAL_EXCEPTION",
	GlobalNMI:        "GLOBAL_NMI",
	GlobalWDTExpired: "GLOBAL_WDT_EXPIRED",
	GlobalPanic:      "GLOBAL_PANIC",
	GlobalUnknown:    "GLOBAL_UNKNOWN",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}

	return fmt.Sprintf("0x%08x", uint32(c))
}

// Error is a failure tagged with the code reported if it turns out to be
// fatal.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

// New returns an error carrying code.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Errorf returns an error carrying code with a formatted message, a %w verb
// in format is unwrapped like fmt.Errorf does.
func Errorf(code Code, format string, a ...any) *Error {
	err := fmt.Errorf(format, a...)

	return &Error{
		Code: code,
		Msg:  err.Error(),
		Err:  errors.Unwrap(err),
	}
}

func (e *Error) Error() string {
	if len(e.Msg) == 0 {
		return e.Code.String()
	}

	return fmt.Sprintf("%s (%s)", e.Msg, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, fatal.New(code, "")) matches on code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code carried by err, GlobalUnknown is only returned for
// errors which were never classified.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}

	var e *Error

	if errors.As(err, &e) && e.Code != Success {
		return e.Code
	}

	return GlobalUnknown
}
