package toolregistry

import (
	"context"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func noopFunc(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return "ok", nil
}

func baseDef(name, version string) *ToolDefinition {
	return &ToolDefinition{
		Name:           name,
		Description:    "a test tool",
		Version:        version,
		TimeoutSeconds: 5,
		Function:       noopFunc,
		Parameters: map[string]ParamSchema{
			"statement": {Type: "string"},
		},
	}
}

var _ = Describe("Registry", func() {
	var r *Registry

	BeforeEach(func() {
		r = New(nil)
	})

	Describe("Register", func() {
		It("accepts a well-formed definition", func() {
			Expect(r.Register(baseDef("sql_query", "1.0.0"))).To(Succeed())
			def, err := r.Get("sql_query")
			Expect(err).NotTo(HaveOccurred())
			Expect(def.Version).To(Equal("1.0.0"))
		})

		It("rejects a name without an underscore", func() {
			err := r.Register(baseDef("sqlquery", "1.0.0"))
			Expect(err).To(HaveOccurred())
		})

		It("rejects an empty description", func() {
			def := baseDef("sql_query", "1.0.0")
			def.Description = ""
			Expect(r.Register(def)).To(HaveOccurred())
		})

		It("rejects a non-dotted-decimal version", func() {
			Expect(r.Register(baseDef("sql_query", "not-a-version"))).To(HaveOccurred())
		})

		It("rejects a zero timeout", func() {
			def := baseDef("sql_query", "1.0.0")
			def.TimeoutSeconds = 0
			Expect(r.Register(def)).To(HaveOccurred())
		})

		It("rejects a nil function", func() {
			def := baseDef("sql_query", "1.0.0")
			def.Function = nil
			Expect(r.Register(def)).To(HaveOccurred())
		})

		It("replaces an existing definition on a strictly greater version", func() {
			Expect(r.Register(baseDef("sql_query", "1.0.0"))).To(Succeed())
			Expect(r.Register(baseDef("sql_query", "1.1.0"))).To(Succeed())
			def, err := r.Get("sql_query")
			Expect(err).NotTo(HaveOccurred())
			Expect(def.Version).To(Equal("1.1.0"))
		})

		It("silently ignores a same-or-lower version re-registration", func() {
			Expect(r.Register(baseDef("sql_query", "1.1.0"))).To(Succeed())
			err := r.Register(baseDef("sql_query", "1.0.0"))
			Expect(err).NotTo(HaveOccurred())
			def, _ := r.Get("sql_query")
			Expect(def.Version).To(Equal("1.1.0"))
		})
	})

	Describe("Get", func() {
		It("returns NotFound for an unregistered tool", func() {
			_, err := r.Get("missing_tool")
			Expect(err).To(HaveOccurred())
			Expect(facterrors.IsKind(err, facterrors.KindNotFound)).To(BeTrue())
		})
	})

	Describe("ExportAllSchemas", func() {
		It("marks a parameter with no default and no explicit optional flag as required", func() {
			Expect(r.Register(baseDef("sql_query", "1.0.0"))).To(Succeed())
			schemas := r.ExportAllSchemas()
			Expect(schemas).To(HaveLen(1))
			Expect(schemas[0].Input.Required).To(ContainElement("statement"))
		})

		It("excludes a parameter with a default from required", func() {
			def := baseDef("sql_query", "1.0.0")
			def.Parameters["limit"] = ParamSchema{Type: "integer", Default: 10}
			Expect(r.Register(def)).To(Succeed())
			schemas := r.ExportAllSchemas()
			Expect(schemas[0].Input.Required).NotTo(ContainElement("limit"))
			Expect(schemas[0].Input.Required).To(ContainElement("statement"))
		})

		It("excludes a parameter explicitly marked required: false", func() {
			notRequired := false
			def := baseDef("sql_query", "1.0.0")
			def.Parameters["verbose"] = ParamSchema{Type: "boolean", Required: &notRequired}
			Expect(r.Register(def)).To(Succeed())
			schemas := r.ExportAllSchemas()
			Expect(schemas[0].Input.Required).NotTo(ContainElement("verbose"))
		})
	})
})
