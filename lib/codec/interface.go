package codec

// ICodec is the interface for all document codecs
type ICodec interface {
	// Name returns the identifier of the codec as accepted by FromName
	Name() string
	// Encode serializes a document into a byte array
	// It returns the serialized byte array and an error if any
	Encode(v any) ([]byte, error)
	// Decode deserializes a byte array into a document
	// It takes a byte array and a pointer to the document as parameters
	// It returns an error if any
	Decode(b []byte, v any) error
}
