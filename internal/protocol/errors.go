package protocol

import (
	"errors"
	"fmt"

	"github.com/OCAP2/arena/pkg/core"
)

// Decode failures. All of them wrap core.ErrProtocolDecode.
var (
	ErrVersionMismatch  = fmt.Errorf("%w: format version mismatch", core.ErrProtocolDecode)
	ErrTruncated        = fmt.Errorf("%w: truncated payload", core.ErrProtocolDecode)
	ErrFrameTooLarge    = fmt.Errorf("%w: frame too large", core.ErrProtocolDecode)
	ErrLengthMismatch   = fmt.Errorf("%w: payload length mismatch", core.ErrProtocolDecode)
	ErrTrailingBytes    = fmt.Errorf("%w: trailing bytes after payload", core.ErrProtocolDecode)
	ErrUnknownTag       = fmt.Errorf("%w: unknown type tag", core.ErrProtocolDecode)
	ErrUnexpectedTag    = fmt.Errorf("%w: unexpected type tag", core.ErrProtocolDecode)
	ErrMalformedString  = fmt.Errorf("%w: malformed UTF-8 string", core.ErrProtocolDecode)
	ErrUnexpectedNull   = fmt.Errorf("%w: null where a value is required", core.ErrProtocolDecode)
	ErrNegativeLength   = fmt.Errorf("%w: negative length", core.ErrProtocolDecode)
	ErrInvalidBool      = fmt.Errorf("%w: invalid boolean byte", core.ErrProtocolDecode)
	ErrInvalidEnumValue = fmt.Errorf("%w: enum value out of range", core.ErrProtocolDecode)
)

// Encode and registration failures.
var (
	ErrTypeMismatch   = errors.New("protocol: value type does not match serializer")
	ErrUnregistered   = errors.New("protocol: tag not registered")
	ErrDuplicateTag   = errors.New("protocol: tag registered twice")
	ErrReservedTag    = errors.New("protocol: tag is reserved")
	ErrInvalidUTF8Out = errors.New("protocol: refusing to encode invalid UTF-8")
)
