package models

// FileRecord is the stored document for one file in the external record store.
type FileRecord struct {
	FileID     string        `json:"fileId" bson:"fileid"`
	Name       string        `json:"name" bson:"filename"`
	URL        string        `json:"url" bson:"url"`
	Status     FileStatus    `json:"status" bson:"file_status"`
	Error      string        `json:"error,omitempty" bson:"file_error,omitempty"`
	MassGrams  float64       `json:"massGrams,omitempty" bson:"mass_in_grams,omitempty"`
	Dimensions *BoundingBox  `json:"dimensions,omitempty" bson:"dimensions,omitempty"`
	Pricing    *PricingTiers `json:"pricing,omitempty" bson:"pricing,omitempty"`
}

// FilePatch is a partial update of a FileRecord. Nil fields are left untouched.
type FilePatch struct {
	Status     FileStatus
	Error      *string
	MassGrams  *float64
	Dimensions *BoundingBox
	Pricing    *PricingTiers
}

// PatchFromResult builds the terminal patch for a unit result.
func PatchFromResult(r FileResult) FilePatch {
	p := FilePatch{Status: r.Status}
	if r.Status == FileStatusError {
		msg := r.Message
		p.Error = &msg
		return p
	}
	empty := ""
	mass := r.MassGrams
	p.Error = &empty
	p.MassGrams = &mass
	p.Dimensions = r.Dimensions
	p.Pricing = r.Pricing
	return p
}
