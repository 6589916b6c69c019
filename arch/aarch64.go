package arch

func init() {
	register(&Model{
		Name:         "aarch64",
		PointerSize:  8,
		SymbolRelocs: []string{"R_AARCH64_ABS64", "R_AARCH64_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 4
  .type {{.Sym}}, %function
{{.Sym}}:
  .cfi_startproc
1:
  // x16 is the intra-procedure-call scratch register.
  adrp x16, _{{.Tag}}_tramp_table+{{.Offset}}
  ldr x16, [x16, #:lo12:_{{.Tag}}_tramp_table+{{.Offset}}]
  cbz x16, 2f
  br x16
2:
  stp x29, x30, [sp, #-16]!
  .cfi_adjust_cfa_offset 16
  .cfi_rel_offset x29, 0
  .cfi_rel_offset x30, 8
  // movz/movk carry indices past the 16-bit immediate limit.
  movz x16, #({{.Number}} & 0xffff)
  movk x16, #({{.Number}} >> 16), lsl #16
  bl _{{.Tag}}_save_regs_and_resolve
  ldp x29, x30, [sp], #16
  .cfi_adjust_cfa_offset -16
  .cfi_restore x29
  .cfi_restore x30
  b 1b
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Expects the symbol index in x16 and preserves every argument and
  // return register of the AAPCS64 convention.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, %function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc
  stp x29, x30, [sp, #-16]!
  .cfi_adjust_cfa_offset 16
  .cfi_rel_offset x29, 0
  .cfi_rel_offset x30, 8
  mov x29, sp
  stp x0, x1, [sp, #-16]!
  stp x2, x3, [sp, #-16]!
  stp x4, x5, [sp, #-16]!
  stp x6, x7, [sp, #-16]!
  // x8 holds the indirect-result location.
  stp x8, x9, [sp, #-16]!
  stp q0, q1, [sp, #-32]!
  stp q2, q3, [sp, #-32]!
  stp q4, q5, [sp, #-32]!
  stp q6, q7, [sp, #-32]!
  .cfi_adjust_cfa_offset 208

  mov w0, w16
  bl _{{.Tag}}_tramp_resolve

  ldp q6, q7, [sp], #32
  ldp q4, q5, [sp], #32
  ldp q2, q3, [sp], #32
  ldp q0, q1, [sp], #32
  ldp x8, x9, [sp], #16
  ldp x6, x7, [sp], #16
  ldp x4, x5, [sp], #16
  ldp x2, x3, [sp], #16
  ldp x0, x1, [sp], #16
  .cfi_adjust_cfa_offset -208
  ldp x29, x30, [sp], #16
  .cfi_adjust_cfa_offset -16
  .cfi_restore x29
  .cfi_restore x30
  ret
  .cfi_endproc
`,
	})
}
