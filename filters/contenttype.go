package filters

import (
	"math/bits"
	"strings"
)

// ContentType is a bitmask of request and page content types that a request
// filter applies to.
type ContentType uint32

const (
	// TypeOther is any request that doesn't fit the other types.
	TypeOther ContentType = 1 << iota
	// TypeScript is a script, $script.
	TypeScript
	// TypeImage is an image, $image or $background.
	TypeImage
	// TypeStylesheet is a CSS file, $stylesheet.
	TypeStylesheet
	// TypeObject is a plugin object, $object.
	TypeObject
	// TypeSubdocument is a frame, $subdocument.
	TypeSubdocument
	// TypeDocument is the top-level page itself, $document.
	TypeDocument
	// TypeXBL is an XBL binding, $xbl.
	TypeXBL
	// TypePing is a hyperlink auditing ping or a beacon, $ping.
	TypePing
	// TypeXMLHTTPRequest is an AJAX request, $xmlhttprequest.
	TypeXMLHTTPRequest
	// TypeObjectSubrequest is a request started by a plugin,
	// $object-subrequest.
	TypeObjectSubrequest
	// TypeDTD is a DTD loaded by an XML document, $dtd.
	TypeDTD
	// TypeMedia is an audio or a video, $media.
	TypeMedia
	// TypeFont is a web font, $font.
	TypeFont
	// TypePopup is a popup window, $popup.
	TypePopup
	// TypeGenericBlock disables generic blocking filters on a page,
	// $genericblock.
	TypeGenericBlock
	// TypeElemHide disables element hiding on a page, $elemhide.
	TypeElemHide
	// TypeGenericHide disables generic element hiding on a page,
	// $generichide.
	TypeGenericHide

	// TypeAll is the union of all content types.
	TypeAll ContentType = 1<<iota - 1
)

// TypeDefault is the content type of request filters without type options.
const TypeDefault = TypeAll &^ (TypeDocument | TypeElemHide | TypePopup | TypeGenericHide | TypeGenericBlock)

// contentTypeNames maps filter option names to content types.  "background"
// is kept as an alias of "image" for older filter lists.
var contentTypeNames = map[string]ContentType{
	"other":             TypeOther,
	"script":            TypeScript,
	"image":             TypeImage,
	"background":        TypeImage,
	"stylesheet":        TypeStylesheet,
	"object":            TypeObject,
	"subdocument":       TypeSubdocument,
	"document":          TypeDocument,
	"xbl":               TypeXBL,
	"ping":              TypePing,
	"xmlhttprequest":    TypeXMLHTTPRequest,
	"object-subrequest": TypeObjectSubrequest,
	"dtd":               TypeDTD,
	"media":             TypeMedia,
	"font":              TypeFont,
	"popup":             TypePopup,
	"genericblock":      TypeGenericBlock,
	"elemhide":          TypeElemHide,
	"generichide":       TypeGenericHide,
}

// ContentTypeFromName returns the content type for the option name, for
// example "image".  The name is case-insensitive.
func ContentTypeFromName(name string) (t ContentType, ok bool) {
	t, ok = contentTypeNames[strings.ToLower(name)]

	return t, ok
}

// Count returns the number of types set in t.
func (t ContentType) Count() (n int) {
	return bits.OnesCount32(uint32(t))
}
