package extract

import (
	"github/sabouaram/stacs/internal/classify"
	"github/sabouaram/stacs/internal/extract/cab"
	"github/sabouaram/stacs/internal/extract/dmg"
	"github/sabouaram/stacs/internal/extract/iso9660"
	"github/sabouaram/stacs/internal/extract/native"
	"github/sabouaram/stacs/internal/extract/xar"
)

func init() {
	Register(classify.TagAr, native.ExtractAr)
	Register(classify.TagCPIO, native.ExtractCpio)
	Register(classify.TagRar, native.ExtractRar)
	Register(classify.Tag7z, native.Extract7z)
	Register(classify.TagRPM, native.ExtractRPM)
	Register(classify.TagXAR, xar.Extract)
	Register(classify.TagDMG, dmg.Extract)
	Register(classify.TagCab, cab.Extract)
	Register(classify.TagISO9660, iso9660.Extract)
}
