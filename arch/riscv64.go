package arch

func init() {
	register(&Model{
		Name:         "riscv64",
		PointerSize:  8,
		SymbolRelocs: []string{"R_RISCV_64"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 3
  .type {{.Sym}}, @function
{{.Sym}}:
  .cfi_startproc
  lla t3, _{{.Tag}}_tramp_table+{{.Offset}}
  ld t3, 0(t3)
  beqz t3, 1f
  jr t3
1:
  // The glue finishes by jumping to the resolved address itself, so a
  // tail transfer keeps ra intact.
  li t3, {{.Number}}
  tail _{{.Tag}}_save_regs_and_resolve
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Expects the symbol index in t3.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, @function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc
  addi sp, sp, -144
  .cfi_adjust_cfa_offset 144
  sd ra, 0(sp)
  .cfi_rel_offset ra, 0
  sd a0, 8(sp)
  sd a1, 16(sp)
  sd a2, 24(sp)
  sd a3, 32(sp)
  sd a4, 40(sp)
  sd a5, 48(sp)
  sd a6, 56(sp)
  sd a7, 64(sp)
  sd t3, 72(sp)
#ifdef __riscv_float_abi_double
  fsd fa0, 80(sp)
  fsd fa1, 88(sp)
  fsd fa2, 96(sp)
  fsd fa3, 104(sp)
  fsd fa4, 112(sp)
  fsd fa5, 120(sp)
  fsd fa6, 128(sp)
  fsd fa7, 136(sp)
#endif

  mv a0, t3
  call _{{.Tag}}_tramp_resolve

  lla t3, _{{.Tag}}_tramp_table
  ld t1, 72(sp)
  slli t1, t1, 3
  add t3, t3, t1
  ld t3, 0(t3)

#ifdef __riscv_float_abi_double
  fld fa7, 136(sp)
  fld fa6, 128(sp)
  fld fa5, 120(sp)
  fld fa4, 112(sp)
  fld fa3, 104(sp)
  fld fa2, 96(sp)
  fld fa1, 88(sp)
  fld fa0, 80(sp)
#endif
  ld a7, 64(sp)
  ld a6, 56(sp)
  ld a5, 48(sp)
  ld a4, 40(sp)
  ld a3, 32(sp)
  ld a2, 24(sp)
  ld a1, 16(sp)
  ld a0, 8(sp)
  ld ra, 0(sp)
  .cfi_restore ra
  addi sp, sp, 144
  .cfi_adjust_cfa_offset -144
  jr t3
  .cfi_endproc
`,
	})
}
